package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/nhle/email-mcp/internal/metrics"
)

// Action is a batch operation.
type Action string

const (
	ActionMark   Action = "mark"
	ActionMove   Action = "move"
	ActionDelete Action = "delete"
)

// Batch describes one multi-message request against a single folder.
type Batch struct {
	Folder string
	Action Action
	IDs    []string
	// Target is the destination folder of ActionMove.
	Target string
	// Flag and On describe the change made by ActionMark.
	Flag string
	On   bool
}

// BatchResult reports per-item outcomes. Order is the sequence in which
// the items were attempted.
type BatchResult struct {
	Succeeded int      `json:"success_count"`
	Failed    int      `json:"failed_count"`
	FailedIDs []string `json:"failed_ids"`
	Order     []string `json:"-"`
}

// Coordinator applies batches through a Session.
type Coordinator struct {
	session *Session
	log     *slog.Logger
}

// NewCoordinator returns a coordinator over s.
func NewCoordinator(s *Session, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{session: s, log: log}
}

// Order returns ids in the order a batch visits them. Removing ordinal k
// only decrements ordinals above k, so in-range ordinals (1..total) go
// strictly descending; out-of-range numbers follow, also descending, and
// anything non-numeric is last in input order. Numeric duplicates collapse.
func Order(ids []string, total int) []string {
	var inRange, outOfRange []uint64
	var rest []string
	seen := make(map[uint64]bool, len(ids))

	for _, id := range ids {
		n, ok := parseOrdinal(id)
		if !ok {
			rest = append(rest, id)
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		if n <= uint64(max(total, 0)) {
			inRange = append(inRange, n)
		} else {
			outOfRange = append(outOfRange, n)
		}
	}

	desc := func(a, b uint64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	}
	slices.SortFunc(inRange, desc)
	slices.SortFunc(outOfRange, desc)

	out := make([]string, 0, len(inRange)+len(outOfRange)+len(rest))
	for _, n := range inRange {
		out = append(out, strconv.FormatUint(n, 10))
	}
	for _, n := range outOfRange {
		out = append(out, strconv.FormatUint(n, 10))
	}
	return append(out, rest...)
}

func parseOrdinal(id string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// Apply selects b.Folder and runs b.Action on every id while holding the
// session, so no other caller can renumber the folder mid-batch. A failing
// item is recorded and never stops the batch; a dropped connection is
// reestablished by the next item. Once the server rejects the credentials
// every remaining item is recorded as failed without being attempted. Only
// errors that prevent the batch from starting are returned.
func (c *Coordinator) Apply(ctx context.Context, b Batch) (*BatchResult, error) {
	if err := validateBatch(b); err != nil {
		return nil, err
	}

	var result *BatchResult
	err := c.session.Do(ctx, b.Folder, func(tx *Tx) error {
		result = &BatchResult{FailedIDs: []string{}, Order: Order(b.IDs, tx.Total())}

		var authErr *AuthenticationError
		for _, id := range result.Order {
			var ok bool
			var err error
			if authErr != nil {
				err = authErr
			} else {
				ok, err = c.applyOne(ctx, tx, b, id)
				if errors.As(err, &authErr) {
					c.log.Error("authentication rejected, failing the rest of the batch",
						slog.String("action", string(b.Action)),
						slog.Any("error", err),
					)
				}
			}

			outcome := "succeeded"
			if ok {
				result.Succeeded++
			} else {
				outcome = "failed"
				result.Failed++
				result.FailedIDs = append(result.FailedIDs, id)
				attrs := []any{slog.String("action", string(b.Action)), slog.String("id", id)}
				if err != nil {
					attrs = append(attrs, slog.Any("error", err))
				}
				c.log.Warn("batch item failed", attrs...)
			}
			metrics.BatchItemsTotal.WithLabelValues(string(b.Action), outcome).Inc()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("batch applied",
		slog.String("action", string(b.Action)),
		slog.String("folder", b.Folder),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

func (c *Coordinator) applyOne(ctx context.Context, tx *Tx, b Batch, id string) (bool, error) {
	n, ok := parseOrdinal(id)
	if !ok {
		return false, nil
	}
	ord := Ordinal(n)

	exists, err := tx.Exists(ctx, ord)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, &NotFoundError{Folder: b.Folder, Ordinal: ord}
	}

	switch b.Action {
	case ActionMark:
		return tx.SetFlag(ctx, ord, b.Flag, b.On)
	case ActionMove:
		if err := tx.MoveMessage(ctx, ord, b.Target); err != nil {
			return false, err
		}
	case ActionDelete:
		if err := tx.DeleteMessage(ctx, ord); err != nil {
			return false, err
		}
	}
	return true, nil
}

func validateBatch(b Batch) error {
	if strings.TrimSpace(b.Folder) == "" {
		return &ValidationError{Field: "folder", Message: "folder name cannot be empty"}
	}
	if len(b.IDs) == 0 {
		return &ValidationError{Field: "email_ids", Message: "no email ids given"}
	}
	switch b.Action {
	case ActionMark:
		if strings.TrimSpace(b.Flag) == "" {
			return &ValidationError{Field: "flag", Message: "flag cannot be empty"}
		}
	case ActionMove:
		if strings.TrimSpace(b.Target) == "" {
			return &ValidationError{Field: "target_folder", Message: "target folder cannot be empty"}
		}
	case ActionDelete:
	default:
		return &ValidationError{Field: "action", Message: "unknown action " + strconv.Quote(string(b.Action))}
	}
	return nil
}
