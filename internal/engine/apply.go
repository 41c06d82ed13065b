package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"todoassist/internal/directive"
	"todoassist/internal/events"
)

// ApplyReply extracts the directives embedded in an assistant reply and applies
// them in order. Each directive commits on its own; a failing directive becomes
// a failed outcome and does not stop the rest of the batch.
//
// Cancellation of ctx does not stop the batch once extraction starts; values
// carried by ctx are kept.
func (e Engine) ApplyReply(ctx context.Context, text string) (report Report) {
	ctx = context.WithoutCancel(ctx)
	runID := uuid.NewString()
	log := e.Log.With().Str("run_id", runID).Logger()
	report = Report{RunID: runID, Success: true, Message: text, Outcomes: []Outcome{}}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("apply reply aborted")
			report = Report{
				RunID:    runID,
				Success:  false,
				Message:  text,
				Error:    fmt.Sprint(r),
				Outcomes: []Outcome{},
			}
		}
	}()

	for _, c := range directive.Extract(text) {
		d, err := directive.Decode(c)
		if errors.Is(err, directive.ErrUnknownKind) {
			log.Debug().Str("type", c.Type).Msg("ignoring candidate")
			continue
		}
		var out Outcome
		if err != nil {
			out = failed(directive.Kind(c.Type), err)
		} else {
			out = e.dispatch(ctx, runID, d)
		}
		logOutcome(log, out)
		report.Outcomes = append(report.Outcomes, out)
	}
	if len(report.Outcomes) > 0 {
		payload := events.EventPayload{"actions": len(report.Outcomes), "failures": report.Failures()}
		err := e.withTx(ctx, func(tx *sql.Tx) error {
			return e.Events.Append(ctx, tx, events.ReplyApplied, 0, runID, payload)
		})
		if err != nil {
			log.Warn().Err(err).Msg("record reply event")
		}
	}
	return report
}

func (e Engine) dispatch(ctx context.Context, runID string, d directive.Directive) Outcome {
	if err := d.Validate(); err != nil {
		return failed(d.Kind(), err)
	}
	var (
		out Outcome
		err error
	)
	switch d := d.(type) {
	case *directive.SplitTask:
		out, err = e.splitTask(ctx, runID, d)
	case *directive.AdjustDeadline:
		out, err = e.adjustDeadline(ctx, runID, d)
	case *directive.CreateTasks:
		out, err = e.createTasks(ctx, runID, d)
	case *directive.UpdateTasks:
		out, err = e.updateTasks(ctx, runID, d)
	default:
		err = fmt.Errorf("no handler for %s", d.Kind())
	}
	if err != nil {
		return failed(d.Kind(), err)
	}
	out.Type = d.Kind()
	out.Success = true
	return out
}

func logOutcome(log zerolog.Logger, out Outcome) {
	if out.Success {
		log.Info().Str("kind", string(out.Type)).Msg(out.Message)
		return
	}
	log.Warn().Str("kind", string(out.Type)).Str("error", out.Error).Msg("directive failed")
}
