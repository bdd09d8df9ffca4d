package approval

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Service orchestrates the approval request lifecycle. All mutations are
// serialized on one mutex so concurrent resolutions of the same request see
// exactly one winner.
type Service struct {
	store      *Store
	defaultTTL time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// NewService creates a service backed by <workspace>/state/approvals.json.
// A zero ttl means pending requests never expire.
func NewService(workspace string, ttl time.Duration) *Service {
	return NewServiceWithClock(workspace, ttl, time.Now)
}

// NewServiceWithClock is NewService with an injected clock. Expiry decisions
// compare request deadlines against this clock only.
func NewServiceWithClock(workspace string, ttl time.Duration, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      NewStore(workspace),
		defaultTTL: ttl,
		now:        now,
	}
}

// Create inserts a new pending approval request for one sensitive tool call.
// Exactly one request may be pending per (turn, call); duplicate creates fail.
func (s *Service) Create(input CreateInput) (Request, error) {
	turnID := strings.TrimSpace(input.TurnID)
	if turnID == "" {
		return Request{}, fmt.Errorf("turn_id is required")
	}
	callID := strings.TrimSpace(input.CallID)
	if callID == "" {
		return Request{}, fmt.Errorf("call_id is required")
	}
	toolName := strings.TrimSpace(input.ToolName)
	if toolName == "" {
		return Request{}, fmt.Errorf("tool_name is required")
	}

	now := s.now().UTC()
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Request{}, err
	}

	for _, req := range data.Requests {
		if req.TurnID == turnID && req.CallID == callID && req.Status == StatusPending {
			return Request{}, fmt.Errorf("approval already pending for turn %s call %s", turnID, callID)
		}
	}

	request := Request{
		ID:          strconv.FormatInt(data.NextID, 10),
		TurnID:      turnID,
		CallID:      callID,
		ToolName:    toolName,
		ArgsJSON:    strings.TrimSpace(input.ArgsJSON),
		Reason:      strings.TrimSpace(input.Reason),
		Status:      StatusPending,
		RequestedAt: now,
	}
	if ttl > 0 {
		request.ExpiresAt = now.Add(ttl)
	}

	data.NextID++
	data.Requests = append(data.Requests, request)

	if err := s.store.Save(data); err != nil {
		return Request{}, err
	}
	return request, nil
}

// Approve marks a pending request as approved.
func (s *Service) Approve(id string, decision DecisionInput) (Request, error) {
	return s.decide(id, StatusApproved, decision, "approved")
}

// Reject marks a pending request as rejected.
func (s *Service) Reject(id string, decision DecisionInput) (Request, error) {
	return s.decide(id, StatusRejected, decision, "rejected")
}

// Get returns one request by id.
func (s *Service) Get(id string) (Request, error) {
	requests, err := s.List(Query{ID: strings.TrimSpace(id)})
	if err != nil {
		return Request{}, err
	}
	if len(requests) == 0 {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return requests[0], nil
}

// List returns requests filtered by query values.
func (s *Service) List(query Query) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	idFilter := strings.TrimSpace(query.ID)
	turnFilter := strings.TrimSpace(query.TurnID)
	statusFilter := strings.TrimSpace(string(query.Status))
	toolFilter := strings.TrimSpace(query.ToolName)

	result := make([]Request, 0, len(data.Requests))
	for _, req := range data.Requests {
		if idFilter != "" && req.ID != idFilter {
			continue
		}
		if turnFilter != "" && req.TurnID != turnFilter {
			continue
		}
		if statusFilter != "" && string(req.Status) != statusFilter {
			continue
		}
		if toolFilter != "" && !strings.EqualFold(req.ToolName, toolFilter) {
			continue
		}
		result = append(result, req)
	}
	return result, nil
}

// Moot voids every pending request of a cancelled turn so a late resolve can
// never release its tool calls.
func (s *Service) Moot(turnID string) ([]Request, error) {
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return nil, fmt.Errorf("turn_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	mooted := make([]Request, 0)
	changed := false

	for i := range data.Requests {
		req := &data.Requests[i]
		if req.TurnID != turnID || req.Status != StatusPending {
			continue
		}
		req.Status = StatusMoot
		req.DecidedAt = now
		req.DecidedBy = "system"
		req.DecisionNote = "turn cancelled"
		mooted = append(mooted, *req)
		changed = true
	}

	if changed {
		if err := s.store.Save(data); err != nil {
			return nil, err
		}
	}
	return mooted, nil
}

// ExpirePending marks pending requests as expired when TTL has elapsed.
func (s *Service) ExpirePending() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expired := make([]Request, 0)
	changed := false

	for i := range data.Requests {
		req := &data.Requests[i]
		if req.Status != StatusPending {
			continue
		}
		if req.ExpiresAt.IsZero() || req.ExpiresAt.After(now) {
			continue
		}

		req.Status = StatusExpired
		req.DecidedAt = now
		req.DecidedBy = "system"
		if strings.TrimSpace(req.DecisionNote) == "" {
			req.DecisionNote = "expired by ttl"
		}
		expired = append(expired, *req)
		changed = true
	}

	if changed {
		if err := s.store.Save(data); err != nil {
			return nil, err
		}
	}

	return expired, nil
}

func (s *Service) decide(id string, status RequestStatus, decision DecisionInput, defaultNote string) (Request, error) {
	requestID := strings.TrimSpace(id)
	if requestID == "" {
		return Request{}, fmt.Errorf("id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return Request{}, err
	}

	now := s.now().UTC()
	decidedBy := strings.TrimSpace(decision.DecidedBy)
	if decidedBy == "" {
		decidedBy = "unknown"
	}
	decisionNote := strings.TrimSpace(decision.Note)
	if decisionNote == "" {
		decisionNote = defaultNote
	}

	for i := range data.Requests {
		req := &data.Requests[i]
		if req.ID != requestID {
			continue
		}
		if req.Status != StatusPending {
			return Request{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, requestID, req.Status)
		}
		if !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(now) {
			req.Status = StatusExpired
			req.DecidedAt = now
			req.DecidedBy = "system"
			req.DecisionNote = "expired by ttl"
			if err := s.store.Save(data); err != nil {
				return Request{}, err
			}
			return Request{}, fmt.Errorf("%w: %s expired at %s", ErrExpired, requestID, req.ExpiresAt.Format(time.RFC3339))
		}

		req.Status = status
		req.DecidedAt = now
		req.DecidedBy = decidedBy
		req.DecisionNote = decisionNote

		if err := s.store.Save(data); err != nil {
			return Request{}, err
		}
		return *req, nil
	}

	return Request{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
}
