// Package queue implements the file-marker command queue shared with the
// administrative UI. Each command kind owns one marker file in a directory;
// posting overwrites it and draining claims it by rename before reading, so
// a marker is consumed at most once even with several readers.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elonfeng/chanwatch/internal/fileutil"
)

// Kind names a command and its marker file.
type Kind string

const (
	KindCheck Kind = "trigger_check"
	KindJoin  Kind = "join_channel"
	KindLeave Kind = "leave_channel"
)

// Kinds lists every kind in drain priority order.
var Kinds = []Kind{KindLeave, KindJoin, KindCheck}

// FileName returns the marker file name for k.
func (k Kind) FileName() string {
	return string(k) + ".flag"
}

// KindOf maps a marker file name back to its kind.
func KindOf(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.FileName() == filepath.Base(name) {
			return k, true
		}
	}
	return "", false
}

// CheckRequest asks for an immediate full cycle. RequestedBy is nil when the
// request carries no requester.
type CheckRequest struct {
	RequestedBy *int64
}

// JoinRequest asks the worker to join one channel now.
type JoinRequest struct {
	ChannelID  int64  `json:"channel_id"`
	Identifier string `json:"identifier"`
}

// LeaveRequest asks the worker to leave one channel now.
type LeaveRequest struct {
	ChannelID int64  `json:"channel_id"`
	Handle    string `json:"handle"`
}

// Queue is a directory of command markers.
type Queue struct {
	dir string
	log zerolog.Logger
}

// New returns a queue rooted at dir, creating the directory if needed.
func New(dir string, log zerolog.Logger) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir %s: %w", dir, err)
	}
	return &Queue{dir: dir, log: log}, nil
}

func (q *Queue) Dir() string { return q.dir }

// Path returns the marker path for k.
func (q *Queue) Path(k Kind) string {
	return filepath.Join(q.dir, k.FileName())
}

// Post records a command of kind k, replacing any unread one.
func (q *Queue) Post(k Kind, payload []byte) error {
	if err := fileutil.WriteAtomic(q.Path(k), payload); err != nil {
		return fmt.Errorf("post %s: %w", k, err)
	}
	return nil
}

// Pending reports whether a marker of kind k is waiting.
func (q *Queue) Pending(k Kind) bool {
	_, err := os.Stat(q.Path(k))
	return err == nil
}

// Drain atomically removes the pending marker of kind k and returns its
// payload. ok is false when nothing was pending.
func (q *Queue) Drain(k Kind) (payload []byte, ok bool, err error) {
	claim := filepath.Join(q.dir, ".claim-"+string(k)+"-"+uuid.NewString())
	if err := os.Rename(q.Path(k), claim); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim %s: %w", k, err)
	}
	defer os.Remove(claim)

	data, err := os.ReadFile(claim)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", k, err)
	}
	return data, true, nil
}

// PostCheck requests an immediate cycle. A zero requestedBy posts an empty marker.
func (q *Queue) PostCheck(requestedBy int64) error {
	var payload []byte
	if requestedBy != 0 {
		payload = []byte(strconv.FormatInt(requestedBy, 10))
	}
	return q.Post(KindCheck, payload)
}

// DrainCheck returns the pending check request, if any. A payload that is
// neither empty nor a decimal user id is discarded.
func (q *Queue) DrainCheck() (*CheckRequest, error) {
	data, ok, err := q.Drain(KindCheck)
	if err != nil || !ok {
		return nil, err
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return &CheckRequest{}, nil
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		q.discard(KindCheck, data)
		return nil, nil
	}
	return &CheckRequest{RequestedBy: &id}, nil
}

func (q *Queue) PostJoin(req JoinRequest) error {
	return q.postJSON(KindJoin, req)
}

// DrainJoin returns the pending join request, if any. Markers without a
// channel id or identifier are discarded.
func (q *Queue) DrainJoin() (*JoinRequest, error) {
	var req JoinRequest
	ok, err := q.drainJSON(KindJoin, &req)
	if err != nil || !ok {
		return nil, err
	}
	if req.ChannelID <= 0 || strings.TrimSpace(req.Identifier) == "" {
		q.log.Warn().Str("kind", string(KindJoin)).Msg("discarding join marker without channel id or identifier")
		return nil, nil
	}
	return &req, nil
}

func (q *Queue) PostLeave(req LeaveRequest) error {
	return q.postJSON(KindLeave, req)
}

// DrainLeave returns the pending leave request, if any. Markers without a
// channel id are discarded.
func (q *Queue) DrainLeave() (*LeaveRequest, error) {
	var req LeaveRequest
	ok, err := q.drainJSON(KindLeave, &req)
	if err != nil || !ok {
		return nil, err
	}
	if req.ChannelID <= 0 {
		q.log.Warn().Str("kind", string(KindLeave)).Msg("discarding leave marker without channel id")
		return nil, nil
	}
	return &req, nil
}

func (q *Queue) postJSON(k Kind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("post %s: %w", k, err)
	}
	return q.Post(k, data)
}

func (q *Queue) drainJSON(k Kind, out any) (bool, error) {
	data, ok, err := q.Drain(k)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		q.discard(k, data)
		return false, nil
	}
	return true, nil
}

func (q *Queue) discard(k Kind, data []byte) {
	q.log.Warn().
		Str("kind", string(k)).
		Int("bytes", len(data)).
		Msg("discarding malformed marker")
}
