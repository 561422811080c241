// Package checkpoint persists the last known board state of each board a
// participant has opened, plus the participant's display name.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"retroboard/internal/board"
)

const (
	userNameKey = "retroboard-username"
	boardsKey   = "retroboard-boards"
	maxRecent   = 20
)

func stateKey(boardID string) string { return "retroboard-state-" + boardID }
func nameKey(boardID string) string  { return "retroboard-name-" + boardID }
func tsKey(boardID string) string    { return "retroboard-ts-" + boardID }

// OpenStore opens the store selected by driver: "bolt" (path is the file),
// "postgres" (dbURL) or "memory".
func OpenStore(ctx context.Context, driver, path, dbURL string) (Store, error) {
	switch driver {
	case "", "bolt":
		return OpenBolt(path)
	case "postgres":
		return OpenPostgres(ctx, dbURL)
	case "memory":
		return NewMemStore(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

// Snapshot is what a checkpoint holds for one board.
type Snapshot struct {
	Columns board.Columns
	Name    string
	Ts      int64
}

// RecentBoard is an entry of the recently opened boards list.
type RecentBoard struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LastOpened int64  `json:"lastOpened"`
}

// Checkpoint reads and writes the persisted data of a single board.
type Checkpoint struct {
	store   Store
	boardID string
	logger  *zap.Logger
}

func New(store Store, boardID string, logger *zap.Logger) *Checkpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpoint{store: store, boardID: boardID, logger: logger}
}

// Load returns the saved snapshot. ok is false when nothing usable is stored.
// A state that fails to parse counts as absent; only store errors are
// returned.
func (c *Checkpoint) Load(ctx context.Context) (Snapshot, bool, error) {
	snap := Snapshot{Columns: board.Empty(), Name: board.DefaultName}

	name, hasName, err := c.store.Get(ctx, nameKey(c.boardID))
	if err != nil {
		return snap, false, fmt.Errorf("load board name: %w", err)
	}
	if hasName {
		snap.Name = board.NormalizeName(name)
	}

	raw, hasState, err := c.store.Get(ctx, stateKey(c.boardID))
	if err != nil {
		return snap, false, fmt.Errorf("load board state: %w", err)
	}
	if !hasState {
		return snap, false, nil
	}
	var cols board.Columns
	if err := json.Unmarshal([]byte(raw), &cols); err != nil {
		c.logger.Warn("Discarding corrupt checkpoint state",
			zap.String("boardId", c.boardID),
			zap.Error(err))
		return snap, false, nil
	}
	snap.Columns = cols

	if rawTs, ok, err := c.store.Get(ctx, tsKey(c.boardID)); err != nil {
		return snap, false, fmt.Errorf("load board timestamp: %w", err)
	} else if ok {
		if ts, err := strconv.ParseInt(rawTs, 10, 64); err == nil {
			snap.Ts = ts
		}
	}
	return snap, true, nil
}

// Save writes snap and records the board in the recent boards list.
func (c *Checkpoint) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap.Columns)
	if err != nil {
		return fmt.Errorf("marshal board state: %w", err)
	}
	if err := c.store.Set(ctx, stateKey(c.boardID), string(data)); err != nil {
		return fmt.Errorf("save board state: %w", err)
	}
	if err := c.store.Set(ctx, nameKey(c.boardID), snap.Name); err != nil {
		return fmt.Errorf("save board name: %w", err)
	}
	if err := c.store.Set(ctx, tsKey(c.boardID), strconv.FormatInt(snap.Ts, 10)); err != nil {
		return fmt.Errorf("save board timestamp: %w", err)
	}
	return c.Touch(ctx, snap.Name)
}

// SetName stores the name of a board that has no state yet. Load returns it
// with an empty board until the first Save.
func (c *Checkpoint) SetName(ctx context.Context, name string) error {
	return c.store.Set(ctx, nameKey(c.boardID), board.NormalizeName(name))
}

// UserName returns the participant's saved display name.
func (c *Checkpoint) UserName(ctx context.Context) (string, bool, error) {
	return c.store.Get(ctx, userNameKey)
}

// SetUserName saves the participant's display name. It is shared by all
// boards.
func (c *Checkpoint) SetUserName(ctx context.Context, name string) error {
	return c.store.Set(ctx, userNameKey, name)
}

// Touch moves the board to the front of the recent boards list.
func (c *Checkpoint) Touch(ctx context.Context, name string) error {
	boards, err := c.RecentBoards(ctx)
	if err != nil {
		return err
	}
	next := []RecentBoard{{ID: c.boardID, Name: name, LastOpened: time.Now().UnixMilli()}}
	for _, b := range boards {
		if b.ID != c.boardID && len(next) < maxRecent {
			next = append(next, b)
		}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, boardsKey, string(data))
}

// RecentBoards lists boards opened on this machine, most recent first.
func (c *Checkpoint) RecentBoards(ctx context.Context) ([]RecentBoard, error) {
	raw, ok, err := c.store.Get(ctx, boardsKey)
	if err != nil {
		return nil, fmt.Errorf("load recent boards: %w", err)
	}
	if !ok {
		return []RecentBoard{}, nil
	}
	var boards []RecentBoard
	if err := json.Unmarshal([]byte(raw), &boards); err != nil {
		c.logger.Warn("Discarding corrupt recent boards list", zap.Error(err))
		return []RecentBoard{}, nil
	}
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].LastOpened > boards[j].LastOpened })
	return boards, nil
}
