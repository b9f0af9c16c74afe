// engine.go
package calendarassistant

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The engine sequences schema validation, duplicate/conflict detection
// and batch resolution, then applies the surviving action against the
// repositories. It is synchronous and single-threaded per call; the
// only shared state is the store behind the repository interfaces.

const (
	// snapshotLimit bounds the existing-events view handed to the
	// detectors; every check is linear in it.
	snapshotLimit = 500

	// snapshotHorizon is how far forward the conflict snapshot reaches.
	snapshotHorizon = 90 * 24 * time.Hour

	// contextEventLimit bounds the recent events given to the proposer
	// for reference resolution.
	contextEventLimit = 20

	// batchMatchLimit bounds the candidate set a batch filter is matched
	// against. Batch windows follow the filter's own date bounds, not the
	// conflict horizon, so the cap is wider than snapshotLimit.
	batchMatchLimit = 5000

	// batchOpenEndYears is how far forward an unbounded batch window
	// reaches when the filter has no date_to.
	batchOpenEndYears = 10

	// duplicateTitleSuffix is appended when DUPLICATE has no title override.
	duplicateTitleSuffix = " (copy)"
)

type assistantService struct {
	users     UserRepository
	events    EventRepository
	reminders ReminderRepository
	rules     RecurrenceRepository
	proposer  Proposer
	log       *slog.Logger
}

var _ AssistantService = (*assistantService)(nil)

func NewAssistantService(
	users UserRepository,
	events EventRepository,
	reminders ReminderRepository,
	rules RecurrenceRepository,
	proposer Proposer,
) AssistantService {
	return &assistantService{
		users:     users,
		events:    events,
		reminders: reminders,
		rules:     rules,
		proposer:  proposer,
		log:       ComponentLogger("assistant"),
	}
}

// ======================
// Parse
// ======================

// Parse runs the proposer over the utterance plus the user's calendar
// context, then validates the proposal. Any proposer failure degrades
// to an ASK action; the raw error only reaches the log.
func (s *assistantService) Parse(ctx context.Context, userID int64, text string) (*ProposedAction, error) {
	ctx, reqID := WithRequestID(ctx)

	snapshot, err := s.snapshot(userID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	memory := map[string]string{"timezone": "UTC"}
	if user, err := s.users.GetUserByID(userID); err == nil && user.Timezone != "" {
		memory["timezone"] = user.Timezone
	}

	contextEvents := snapshot
	if len(contextEvents) > contextEventLimit {
		contextEvents = contextEvents[:contextEventLimit]
	}

	action, err := s.proposer.Propose(ctx, ProposeRequest{
		Text:          text,
		ContextEvents: contextEvents,
		UserMemory:    memory,
	})
	if err != nil || action == nil {
		s.log.Warn("proposer failed", "err", err, "request_id", reqID, "user_id", userID)
		return askAction("I couldn't understand that. Could you rephrase?"), nil
	}

	if out := s.Validate(action, snapshot); !out.Valid {
		s.log.Warn("proposed action rejected",
			"err", out.Err, "message", out.Message, "request_id", reqID, "user_id", userID)
		if out.Err == ErrDuplicateDetected {
			// Blocked, but reported as a non-mutating CONFLICT reply so the
			// user sees why nothing happened.
			return conflictAction(out.Message, action.Confidence), nil
		}
		return askAction("I couldn't process that request. " + out.Message), nil
	}

	if action.Summary == "" {
		if action.Payload.Message != "" {
			action.Summary = action.Payload.Message
		} else {
			action.Summary = "Action parsed"
		}
	}
	return action, nil
}

// ======================
// Validate
// ======================

// Validate is pure with respect to storage: schema first, then the
// duplicate rule (hard), then conflict detection (soft: the action is
// re-tagged CONFLICT in place and stays valid).
func (s *assistantService) Validate(action *ProposedAction, snapshot []Event) ValidationOutcome {
	if out := ValidateActionSchema(action); !out.Valid {
		return out
	}
	if out := CheckDuplicate(action, snapshot); !out.Valid {
		return out
	}
	DetectConflicts(action, snapshot)
	if action.Kind == ActionConflict {
		return ValidationOutcome{Valid: true, Message: action.Payload.Message}
	}
	return ValidationOutcome{Valid: true}
}

// ======================
// Apply
// ======================

// Apply executes a validated action. Hard failures (duplicate, not
// found, bad batch) come back as errors wrapping the sentinel; the
// caller maps them to transport-level responses.
func (s *assistantService) Apply(ctx context.Context, userID int64, action *ProposedAction) (*ApplyResult, error) {
	if action == nil {
		return nil, ErrInvalidInput
	}
	if out := ValidateActionSchema(action); !out.Valid {
		return nil, fmt.Errorf("%w: %s", out.Err, out.Message)
	}

	switch action.Kind {
	case ActionCreate:
		return s.applyCreate(ctx, userID, action)
	case ActionUpdate:
		return s.applyUpdate(ctx, userID, action)
	case ActionDelete:
		return s.applyDelete(ctx, userID, action)
	case ActionMove:
		return s.applyMove(ctx, userID, action)
	case ActionDuplicate:
		return s.applyDuplicate(ctx, userID, action)
	case ActionBatchUpdate:
		return s.applyBatch(ctx, userID, action, true)
	case ActionBatchDelete:
		return s.applyBatch(ctx, userID, action, false)
	case ActionSuggest, ActionAsk, ActionNoop, ActionConflict:
		// No mutation: pass the message through.
		return &ApplyResult{Kind: action.Kind, Message: action.Payload.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, action.Kind)
	}
}

func (s *assistantService) applyCreate(ctx context.Context, userID int64, action *ProposedAction) (*ApplyResult, error) {
	snapshot, err := s.snapshot(userID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if out := CheckDuplicate(action, snapshot); !out.Valid {
		return nil, fmt.Errorf("%w: %s", out.Err, out.Message)
	}
	DetectConflicts(action, snapshot)

	start, _ := NormalizeTimestamp(action.Payload.StartTime) // schema-validated above
	end, _ := NormalizeTimestamp(action.Payload.EndTime)

	ev := &Event{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       action.Payload.Title,
		Description: action.Payload.Description,
		Location:    action.Payload.Location,
		Start:       start,
		End:         end,
		Timezone:    "UTC",
	}
	if action.Payload.Recurrence != "" {
		rule := &RecurrenceRule{Frequency: "custom", Interval: 1, RRuleText: action.Payload.Recurrence}
		if err := s.rules.CreateRecurrenceRule(rule); err != nil {
			return nil, fmt.Errorf("create recurrence rule: %w", err)
		}
		ev.RecurrenceRuleID = &rule.ID
	}
	if err := s.events.CreateEvent(ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	if action.Payload.Reminders != nil {
		if err := s.reminders.ReplaceReminders(ev.ID, action.Payload.Reminders); err != nil {
			return nil, fmt.Errorf("set reminders: %w", err)
		}
	}
	RecordAction(ctx, userID, ActionCreate, "event", ev.ID, map[string]string{"title": ev.Title})

	res := &ApplyResult{Kind: ActionCreate, Event: ev, Affected: 1}
	if action.Kind == ActionConflict {
		// Created anyway; the conflict only warns.
		res.Kind = ActionConflict
		res.Message = action.Payload.Message
	}
	return res, nil
}

func (s *assistantService) applyUpdate(ctx context.Context, userID int64, action *ProposedAction) (*ApplyResult, error) {
	ev, err := s.events.GetEventByID(userID, action.Payload.EventID)
	if err != nil {
		return nil, err
	}

	timeChanged := action.Payload.StartTime != "" && action.Payload.EndTime != ""
	if timeChanged {
		snapshot, err := s.snapshot(userID)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if out := CheckDuplicate(action, snapshot); !out.Valid {
			return nil, fmt.Errorf("%w: %s", out.Err, out.Message)
		}
		DetectConflicts(action, snapshot)
	}

	p := &action.Payload
	if p.Title != "" {
		ev.Title = p.Title
	}
	if p.Description != "" {
		ev.Description = p.Description
	}
	if p.Location != "" {
		ev.Location = p.Location
	}
	if p.StartTime != "" {
		if t, err := NormalizeTimestamp(p.StartTime); err == nil {
			ev.Start = t
		}
	}
	if p.EndTime != "" {
		if t, err := NormalizeTimestamp(p.EndTime); err == nil {
			ev.End = t
		}
	}
	if !ev.End.After(ev.Start) {
		return nil, fmt.Errorf("%w: end_time must be after start_time", ErrInvalidInput)
	}

	if err := s.events.UpdateEvent(ev); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	if p.Reminders != nil {
		// Old reminders are fully replaced, never merged.
		if err := s.reminders.ReplaceReminders(ev.ID, p.Reminders); err != nil {
			return nil, fmt.Errorf("replace reminders: %w", err)
		}
	}
	RecordAction(ctx, userID, ActionUpdate, "event", ev.ID, map[string]string{"title": ev.Title})

	res := &ApplyResult{Kind: ActionUpdate, Event: ev, Affected: 1}
	if action.Kind == ActionConflict {
		res.Kind = ActionConflict
		res.Message = action.Payload.Message
	}
	return res, nil
}

func (s *assistantService) applyDelete(ctx context.Context, userID int64, action *ProposedAction) (*ApplyResult, error) {
	ev, err := s.events.GetEventByID(userID, action.Payload.EventID)
	if err != nil {
		return nil, err
	}
	// Deletions are never blocked by conflicts.
	if err := s.events.DeleteEvent(userID, ev.ID); err != nil {
		return nil, fmt.Errorf("delete event: %w", err)
	}
	RecordAction(ctx, userID, ActionDelete, "event", ev.ID, map[string]string{"title": ev.Title})
	return &ApplyResult{Kind: ActionDelete, Event: ev, Affected: 1}, nil
}

// applyMove is the create-then-delete saga: the original is deleted
// only after its replacement exists, so a failed create leaves the
// calendar untouched and a move can never end up with two events.
func (s *assistantService) applyMove(ctx context.Context, userID int64, action *ProposedAction) (*ApplyResult, error) {
	original, err := s.events.GetEventByID(userID, action.Payload.EventID)
	if err != nil {
		return nil, err
	}

	createStep := &ProposedAction{
		Kind: ActionCreate,
		Payload: ActionPayload{
			// EventID carries the original so the detectors exclude it.
			EventID:     original.ID,
			Title:       original.Title,
			Description: original.Description,
			Location:    original.Location,
			StartTime:   action.Payload.StartTime,
			EndTime:     action.Payload.EndTime,
			Reminders:   action.Payload.Reminders,
		},
	}

	snapshot, err := s.snapshot(userID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if out := CheckDuplicate(createStep, snapshot); !out.Valid {
		// Abort before any deletion: the original stays.
		return nil, fmt.Errorf("%w: %s", out.Err, out.Message)
	}
	DetectConflicts(createStep, snapshot)
	conflictMsg := ""
	if createStep.Kind == ActionConflict {
		conflictMsg = createStep.Payload.Message
	}

	start, _ := NormalizeTimestamp(action.Payload.StartTime)
	end, _ := NormalizeTimestamp(action.Payload.EndTime)
	moved := &Event{
		ID:               uuid.NewString(),
		UserID:           userID,
		Title:            original.Title,
		Description:      original.Description,
		Location:         original.Location,
		Start:            start,
		End:              end,
		Timezone:         original.Timezone,
		Tags:             original.Tags,
		RecurrenceRuleID: original.RecurrenceRuleID,
	}
	if err := s.events.CreateEvent(moved); err != nil {
		return nil, fmt.Errorf("create moved event: %w", err)
	}
	if action.Payload.Reminders != nil {
		if err := s.reminders.ReplaceReminders(moved.ID, action.Payload.Reminders); err != nil {
			s.log.Warn("move: replace reminders failed", "err", err, "event_id", moved.ID)
		}
	}
	RecordAction(ctx, userID, ActionCreate, "event", moved.ID, map[string]string{"title": moved.Title})

	if err := s.events.DeleteEvent(userID, original.ID); err != nil {
		// The replacement exists; surface the inconsistency instead of
		// hiding it.
		return nil, fmt.Errorf("delete original after move: %w", err)
	}
	RecordAction(ctx, userID, ActionDelete, "event", original.ID, map[string]string{"title": original.Title})
	RecordAction(ctx, userID, ActionMove, "event", original.ID, map[string]string{
		"original_id": original.ID,
		"new_id":      moved.ID,
		"title":       original.Title,
	})

	res := &ApplyResult{Kind: ActionMove, Event: moved, Affected: 1}
	if conflictMsg != "" {
		res.Kind = ActionConflict
		res.Message = conflictMsg
	}
	return res, nil
}

func (s *assistantService) applyDuplicate(ctx context.Context, userID int64, action *ProposedAction) (*ApplyResult, error) {
	original, err := s.events.GetEventByID(userID, action.Payload.EventID)
	if err != nil {
		return nil, err
	}

	title := action.Payload.Title
	if title == "" {
		title = original.Title + duplicateTitleSuffix
	}
	startRaw := action.Payload.StartTime
	endRaw := action.Payload.EndTime
	switch {
	case startRaw == "" && endRaw == "":
		// No override: reuse the original window.
		startRaw = NormalizeTime(original.Start).Format(time.RFC3339)
		endRaw = NormalizeTime(original.End).Format(time.RFC3339)
	case endRaw == "":
		// Only the start moved: keep the original duration.
		start, err := NormalizeTimestamp(startRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid datetime format: %q", ErrInvalidInput, startRaw)
		}
		endRaw = start.Add(original.End.Sub(original.Start)).Format(time.RFC3339)
	case startRaw == "":
		// Only the end moved: keep the original start.
		startRaw = NormalizeTime(original.Start).Format(time.RFC3339)
	}
	if out := validateTimeOrder(startRaw, endRaw); !out.Valid {
		return nil, fmt.Errorf("%w: %s", out.Err, out.Message)
	}

	copyAction := &ProposedAction{
		Kind: ActionCreate,
		Payload: ActionPayload{
			Title:       title,
			Description: original.Description,
			Location:    original.Location,
			StartTime:   startRaw,
			EndTime:     endRaw,
			Reminders:   action.Payload.Reminders,
		},
	}
	res, err := s.applyCreate(ctx, userID, copyAction)
	if err != nil {
		return nil, err
	}
	RecordAction(ctx, userID, ActionDuplicate, "event", res.Event.ID, map[string]string{
		"original_id": original.ID,
		"title":       title,
	})
	if res.Kind == ActionCreate {
		res.Kind = ActionDuplicate
	}
	return res, nil
}

// applyBatch resolves the filter once, then applies per event. A
// failure on one event is counted and logged, never allowed to swallow
// the rest of the batch.
func (s *assistantService) applyBatch(ctx context.Context, userID int64, action *ProposedAction, isUpdate bool) (*ApplyResult, error) {
	snapshot, err := s.batchSnapshot(userID, action.Payload.Filters)
	if err != nil {
		return nil, fmt.Errorf("load batch candidates: %w", err)
	}
	rules, err := s.rulesFor(snapshot)
	if err != nil {
		return nil, fmt.Errorf("load recurrence rules: %w", err)
	}

	var update *BatchUpdateFields
	if isUpdate {
		update = action.Payload.UpdateFields
	}
	resolution, err := ResolveBatch(action.Payload.Filters, update, snapshot, rules)
	if err != nil {
		return nil, err
	}

	kind := ActionBatchDelete
	verb := "Deleted"
	if isUpdate {
		kind = ActionBatchUpdate
		verb = "Updated"
	}

	res := &ApplyResult{Kind: kind, Titles: resolution.Titles}
	for i := range resolution.Matched {
		ev := resolution.Matched[i]
		var opErr error
		if isUpdate {
			updated := resolution.ApplyTo(ev)
			updated.UpdatedAt = time.Now().UTC()
			opErr = s.events.UpdateEvent(&updated)
			if opErr == nil && update != nil && update.Reminders != nil {
				opErr = s.reminders.ReplaceReminders(updated.ID, update.Reminders)
			}
		} else {
			opErr = s.events.DeleteEvent(userID, ev.ID)
		}
		if opErr != nil {
			res.Failed++
			s.log.Warn("batch step failed",
				"err", opErr, "event_id", ev.ID, "action", kind, "user_id", userID)
			continue
		}
		res.Affected++
		RecordAction(ctx, userID, kind, "event", ev.ID, map[string]string{
			"title": ev.Title,
			"batch": strconv.Itoa(len(resolution.Matched)),
		})
	}

	res.Message = resolution.Summary(verb)
	if res.Failed > 0 {
		res.Message = fmt.Sprintf("%s (%d of %d failed)", res.Message, res.Failed, len(resolution.Matched))
	}
	return res, nil
}

// ======================
// helpers
// ======================

// snapshot loads the read-only existing-events view used by the
// duplicate/conflict checks and the proposer context.
func (s *assistantService) snapshot(userID int64) ([]Event, error) {
	now := time.Now().UTC()
	return s.events.GetSnapshot(userID, now.Add(-24*time.Hour), now.Add(snapshotHorizon), snapshotLimit)
}

// batchSnapshot loads the candidate events for a batch action. The
// window follows the filter's own date bounds so a batch can reach
// events the conflict horizon would exclude; an absent bound leaves
// that side open. A bound that fails to parse is left alone here —
// ResolveBatch rejects the whole batch for it.
func (s *assistantService) batchSnapshot(userID int64, filter *BatchFilter) ([]Event, error) {
	from := time.Unix(0, 0).UTC()
	to := time.Now().UTC().AddDate(batchOpenEndYears, 0, 0)
	if filter != nil {
		if filter.DateFrom != "" {
			if t, err := NormalizeTimestamp(filter.DateFrom); err == nil {
				from = t
			}
		}
		if filter.DateTo != "" {
			if t, err := NormalizeTimestamp(filter.DateTo); err == nil {
				to = t
			}
		}
	}
	return s.events.GetSnapshot(userID, from, to, batchMatchLimit)
}

// rulesFor bulk-loads the recurrence rules referenced by the snapshot.
func (s *assistantService) rulesFor(snapshot []Event) (map[int64]*RecurrenceRule, error) {
	var ids []int64
	seen := map[int64]bool{}
	for i := range snapshot {
		if id := snapshot[i].RecurrenceRuleID; id != nil && !seen[*id] {
			seen[*id] = true
			ids = append(ids, *id)
		}
	}
	if len(ids) == 0 {
		return map[int64]*RecurrenceRule{}, nil
	}
	return s.rules.RulesByID(ids)
}

func askAction(msg string) *ProposedAction {
	return &ProposedAction{
		Kind:    ActionAsk,
		Payload: ActionPayload{Message: msg},
		Summary: "Clarification needed",
	}
}

func conflictAction(msg string, confidence float64) *ProposedAction {
	if msg == "" {
		msg = "This action conflicts with existing events."
	}
	return &ProposedAction{
		Kind:       ActionConflict,
		Payload:    ActionPayload{Message: msg},
		Confidence: confidence,
		Summary:    strings.TrimSpace(msg),
	}
}
