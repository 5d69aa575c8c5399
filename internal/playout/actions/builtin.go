package actions

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/showstyle"
)

// Built-in handler names, usable from any show style.
const (
	HandlerInsertPiece     = "insert-piece"
	HandlerStopLayers      = "stop-layers"
	HandlerQueuePart       = "queue-part"
	HandlerClearNextLayers = "clear-next-layers"
	HandlerExtendCurrent   = "extend-current"
	HandlerTake            = "take"
)

func registerBuiltins(e *Executor) {
	e.Register(HandlerInsertPiece, insertPiece)
	e.Register(HandlerStopLayers, stopLayers)
	e.Register(HandlerQueuePart, queuePart)
	e.Register(HandlerClearNextLayers, clearNextLayers)
	e.Register(HandlerExtendCurrent, extendCurrent)
	e.Register(HandlerTake, func(_ context.Context, ac *Context, _ showstyle.Action, _ map[string]any) error {
		ac.TakeAfterExecute(true)
		return nil
	})
}

// insertPiece puts a piece on a source layer of the current part, or of
// the next part when nothing is on air or options.target is "next".
//
// Options: source_layer (required), name, duration_ms, start_ms, target,
// take. userData is merged into the piece content.
func insertPiece(_ context.Context, ac *Context, action showstyle.Action, userData map[string]any) error {
	piece, err := pieceFromOptions(ac, action)
	if err != nil {
		return err
	}
	maps.Copy(piece.Content, userData)

	ref := rundown.PartCurrent
	if target, _ := optString(action.Options, "target"); target == "next" {
		ref = rundown.PartNext
	} else if _, ok := ac.PartInstance(rundown.PartCurrent); !ok {
		ref = rundown.PartNext
	}
	if _, err := ac.InsertPiece(ref, piece); err != nil {
		return err
	}
	take, _ := optBool(action.Options, "take")
	ac.TakeAfterExecute(take)
	return nil
}

// stopLayers stops what is playing on the listed source layers.
//
// Options: source_layers (required).
func stopLayers(_ context.Context, ac *Context, action showstyle.Action, _ map[string]any) error {
	layers, err := optStrings(action.Options, "source_layers")
	if err != nil {
		return err
	}
	_, err = ac.StopPiecesOnLayers(layers, nil)
	return err
}

// queuePart queues an adlib part holding one piece after the current part.
//
// Options: source_layer (required), title, name, duration_ms, take.
func queuePart(_ context.Context, ac *Context, action showstyle.Action, userData map[string]any) error {
	piece, err := pieceFromOptions(ac, action)
	if err != nil {
		return err
	}
	maps.Copy(piece.Content, userData)

	title, ok := optString(action.Options, "title")
	if !ok {
		title = action.Label
	}
	part := rundown.Part{Title: title}
	if piece.Enable.Duration != nil {
		part.ExpectedDuration = *piece.Enable.Duration
	}
	if _, err := ac.QueuePart(part, []rundown.Piece{piece}); err != nil {
		return err
	}
	take, _ := optBool(action.Options, "take")
	ac.TakeAfterExecute(take)
	return nil
}

// clearNextLayers removes the next part's pieces on the listed source
// layers. Continuations are kept.
//
// Options: source_layers (required).
func clearNextLayers(_ context.Context, ac *Context, action showstyle.Action, _ map[string]any) error {
	layers, err := optStrings(action.Options, "source_layers")
	if err != nil {
		return err
	}
	var ids []string
	for _, pi := range ac.PieceInstances(rundown.PartNext) {
		if pi.IsInfiniteContinuation() {
			continue
		}
		for _, l := range layers {
			if pi.Piece.SourceLayerID == l {
				ids = append(ids, pi.ID)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = ac.RemovePieceInstances(rundown.PartNext, ids)
	return err
}

// extendCurrent adds time to the current part's expected duration.
//
// Options: duration_ms (required).
func extendCurrent(_ context.Context, ac *Context, action showstyle.Action, _ map[string]any) error {
	extra, ok, err := optDuration(action.Options, "duration_ms")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: duration_ms is required", ErrBadOption)
	}
	return ac.UpdatePartInstance(rundown.PartCurrent, func(pi *rundown.PartInstance) {
		pi.Part.ExpectedDuration += extra
	})
}

func pieceFromOptions(ac *Context, action showstyle.Action) (rundown.Piece, error) {
	layerID, ok := optString(action.Options, "source_layer")
	if !ok {
		return rundown.Piece{}, fmt.Errorf("%w: source_layer is required", ErrBadOption)
	}
	layer, ok := ac.ShowStyle().SourceLayer(layerID)
	if !ok {
		return rundown.Piece{}, fmt.Errorf("%w: %q", ErrUnknownSourceLayer, layerID)
	}

	name, ok := optString(action.Options, "name")
	if !ok {
		name = action.Label
	}
	piece := rundown.Piece{
		Name:          name,
		SourceLayerID: layer.ID,
		OutputLayerID: layer.OutputLayerID,
		PieceType:     rundown.PieceNormal,
		Content:       map[string]any{"action_id": action.ID},
	}

	duration, ok, err := optDuration(action.Options, "duration_ms")
	if err != nil {
		return rundown.Piece{}, err
	}
	if ok {
		piece.Enable.Duration = &duration
	}
	start, ok, err := optDuration(action.Options, "start_ms")
	if err != nil {
		return rundown.Piece{}, err
	}
	if ok {
		piece.Enable.Start = start
	} else {
		piece.Enable.StartNow = true
	}
	return piece, nil
}

// ─── Option decoding ──────────────────────────────────────────────
// Options come from YAML (int) or JSON (float64).

func optString(opts map[string]any, key string) (string, bool) {
	s, ok := opts[key].(string)
	return s, ok && s != ""
}

func optBool(opts map[string]any, key string) (bool, bool) {
	b, ok := opts[key].(bool)
	return b, ok
}

func optDuration(opts map[string]any, key string) (time.Duration, bool, error) {
	v, present := opts[key]
	if !present {
		return 0, false, nil
	}
	var ms float64
	switch n := v.(type) {
	case int:
		ms = float64(n)
	case int64:
		ms = float64(n)
	case float64:
		ms = n
	default:
		return 0, false, fmt.Errorf("%w: %s must be a number, got %T", ErrBadOption, key, v)
	}
	if ms < 0 {
		return 0, false, fmt.Errorf("%w: %s must not be negative", ErrBadOption, key)
	}
	return time.Duration(ms * float64(time.Millisecond)), true, nil
}

func optStrings(opts map[string]any, key string) ([]string, error) {
	var out []string
	switch v := opts[key].(type) {
	case []string:
		out = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings", ErrBadOption, key)
			}
			out = append(out, s)
		}
	case string:
		out = []string{v}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s is required", ErrBadOption, key)
	}
	return out, nil
}
