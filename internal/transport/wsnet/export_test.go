package wsnet

const AcceptBacklog = acceptBacklog
