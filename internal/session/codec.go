package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Field names one attribute of a session document. Documents are stored
// field by field so updates touch only what changed.
type Field string

const (
	FieldID             Field = "id"
	FieldStartPosition  Field = "start_position"
	FieldPosition       Field = "position"
	FieldMoves          Field = "moves"
	FieldLastMove       Field = "last_move"
	FieldSeatWhite      Field = "seat_white"
	FieldSeatBlack      Field = "seat_black"
	FieldTurn           Field = "turn"
	FieldStatus         Field = "status"
	FieldWinner         Field = "winner"
	FieldWinReason      Field = "win_reason"
	FieldClock          Field = "clock"
	FieldCreatedAt      Field = "created_at"
	FieldUpdatedAt      Field = "updated_at"
	FieldDrawOfferedBy  Field = "draw_offered_by"
	FieldStartingRating Field = "starting_rating"
	FieldFinalRating    Field = "final_rating"

	// FieldVersion is maintained by the store, never by a Diff.
	FieldVersion Field = "version"
)

var allFields = []Field{
	FieldID, FieldStartPosition, FieldPosition, FieldMoves, FieldLastMove, FieldSeatWhite, FieldSeatBlack,
	FieldTurn, FieldStatus, FieldWinner, FieldWinReason, FieldClock, FieldCreatedAt,
	FieldUpdatedAt, FieldDrawOfferedBy, FieldStartingRating, FieldFinalRating,
}

// Document is the stored form: field → JSON text, plus the version counter.
type Document map[Field]string

// Diff is the set of fields a write changes.
type Diff map[Field]string

// Fields returns the changed field names in stable order.
func (d Diff) Fields() []Field {
	out := make([]Field, 0, len(d))
	for f := range d {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d Diff) Empty() bool { return len(d) == 0 }

// Encode converts a session to its document form.
func Encode(s *Session) (Document, error) {
	if s == nil {
		return nil, ErrInvalidDocument
	}
	values := map[Field]any{
		FieldID:             s.ID,
		FieldStartPosition:  s.StartPosition,
		FieldPosition:       s.Position,
		FieldMoves:          nonNilMoves(s.Moves),
		FieldLastMove:       s.LastMove,
		FieldSeatWhite:      s.White,
		FieldSeatBlack:      s.Black,
		FieldTurn:           s.Turn,
		FieldStatus:         s.Status,
		FieldWinner:         s.Winner,
		FieldWinReason:      s.WinReason,
		FieldClock:          s.Clock,
		FieldCreatedAt:      s.CreatedAt,
		FieldUpdatedAt:      s.UpdatedAt,
		FieldDrawOfferedBy:  s.DrawOfferedBy,
		FieldStartingRating: s.StartingRating,
		FieldFinalRating:    s.FinalRating,
	}
	doc := make(Document, len(values)+1)
	for f, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f, err)
		}
		doc[f] = string(raw)
	}
	doc[FieldVersion] = strconv.FormatInt(s.Version, 10)
	return doc, nil
}

// Decode rebuilds a session from its document form.
func Decode(doc Document) (*Session, error) {
	if len(doc) == 0 {
		return nil, ErrNotFound
	}
	var s Session
	targets := map[Field]any{
		FieldID:             &s.ID,
		FieldStartPosition:  &s.StartPosition,
		FieldPosition:       &s.Position,
		FieldMoves:          &s.Moves,
		FieldLastMove:       &s.LastMove,
		FieldSeatWhite:      &s.White,
		FieldSeatBlack:      &s.Black,
		FieldTurn:           &s.Turn,
		FieldStatus:         &s.Status,
		FieldWinner:         &s.Winner,
		FieldWinReason:      &s.WinReason,
		FieldClock:          &s.Clock,
		FieldCreatedAt:      &s.CreatedAt,
		FieldUpdatedAt:      &s.UpdatedAt,
		FieldDrawOfferedBy:  &s.DrawOfferedBy,
		FieldStartingRating: &s.StartingRating,
		FieldFinalRating:    &s.FinalRating,
	}
	for f, dst := range targets {
		raw, ok := doc[f]
		if !ok || raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidDocument, f, err)
		}
	}
	if v, ok := doc[FieldVersion]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: version %q", ErrInvalidDocument, v)
		}
		s.Version = n
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	s.Moves = nonNilMoves(s.Moves)
	return &s, nil
}

// DiffOf returns the fields that differ between prev and next.
func DiffOf(prev, next *Session) (Diff, error) {
	a, err := Encode(prev)
	if err != nil {
		return nil, err
	}
	b, err := Encode(next)
	if err != nil {
		return nil, err
	}
	d := Diff{}
	for _, f := range allFields {
		if a[f] != b[f] {
			d[f] = b[f]
		}
	}
	return d, nil
}

// Apply returns a copy of doc with the diff written over it.
func (d Diff) Apply(doc Document) Document {
	out := make(Document, len(doc)+len(d))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Validate checks that applying d to prev keeps every document invariant and
// returns the resulting session (version not yet advanced).
func (d Diff) Validate(prev *Session) (*Session, error) {
	if _, ok := d[FieldVersion]; ok {
		return nil, fmt.Errorf("%w: version is store-managed", ErrInvalidDocument)
	}
	base, err := Encode(prev)
	if err != nil {
		return nil, err
	}
	next, err := Decode(d.Apply(base))
	if err != nil {
		return nil, err
	}
	if next.ID != prev.ID || next.StartPosition != prev.StartPosition || !next.CreatedAt.Equal(prev.CreatedAt) {
		return nil, fmt.Errorf("%w: identity fields are immutable", ErrInvalidDocument)
	}
	if err := checkAppendOnly(prev.Moves, next.Moves); err != nil {
		return nil, err
	}
	if err := checkSeat(prev.White, next.White); err != nil {
		return nil, err
	}
	if err := checkSeat(prev.Black, next.Black); err != nil {
		return nil, err
	}
	if next.Full() && next.White.ID == next.Black.ID {
		return nil, fmt.Errorf("%w: identity holds both seats", ErrInvalidDocument)
	}
	if !CanTransition(prev.Status, next.Status, next.WinReason) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if prev.Ended() && (next.Winner != prev.Winner || next.WinReason != prev.WinReason) {
		return nil, fmt.Errorf("%w: result already recorded", ErrInvalidDocument)
	}
	if next.Ended() {
		if !ConsistentResult(next.Winner, next.WinReason) {
			return nil, fmt.Errorf("%w: winner %q inconsistent with %q", ErrInvalidDocument, next.Winner, next.WinReason)
		}
	} else if next.Winner != "" || next.WinReason != "" {
		return nil, fmt.Errorf("%w: result before end", ErrInvalidDocument)
	}
	if prev.StartingRating != nil && (next.StartingRating == nil || *next.StartingRating != *prev.StartingRating) {
		return nil, fmt.Errorf("%w: starting rating already captured", ErrInvalidDocument)
	}
	if prev.FinalRating != nil && (next.FinalRating == nil || *next.FinalRating != *prev.FinalRating) {
		return nil, fmt.Errorf("%w: final rating already set", ErrInvalidDocument)
	}
	if prev.FinalRating == nil && next.FinalRating != nil && (!next.Ended() || next.StartingRating == nil) {
		return nil, fmt.Errorf("%w: final rating requires an ended, rated session", ErrInvalidDocument)
	}
	if err := next.CheckTurn(); err != nil {
		return nil, fmt.Errorf("%w: turn disagrees with position", err)
	}
	next.Version = prev.Version
	return next, nil
}

func checkAppendOnly(prev, next []MoveRecord) error {
	if len(next) < len(prev) {
		return fmt.Errorf("%w: move history shrank", ErrInvalidDocument)
	}
	a, err := json.Marshal(prev)
	if err != nil {
		return err
	}
	b, err := json.Marshal(next[:len(prev)])
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		return fmt.Errorf("%w: move history rewritten", ErrInvalidDocument)
	}
	for i := len(prev); i < len(next); i++ {
		if next[i].Ply != i+1 {
			return fmt.Errorf("%w: ply %d out of order", ErrInvalidDocument, next[i].Ply)
		}
	}
	return nil
}

func checkSeat(prev, next *PlayerRef) error {
	if prev == nil {
		return nil
	}
	if next == nil || next.ID != prev.ID {
		return fmt.Errorf("%w: occupied seat changed", ErrInvalidDocument)
	}
	return nil
}

func nonNilMoves(m []MoveRecord) []MoveRecord {
	if m == nil {
		return []MoveRecord{}
	}
	return m
}
