package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/enitrat/super-ralph/pkg/bridge"
	"github.com/enitrat/super-ralph/pkg/jobqueue"
	"github.com/enitrat/super-ralph/pkg/ticket"
)

// schedulePayload mirrors the ticket_schedule schema: the jobs a scheduler
// agent invocation asked to run this frame, plus agents it found rate
// limited.
type schedulePayload struct {
	Jobs []struct {
		JobID    string `json:"jobId"`
		JobType  string `json:"jobType"`
		AgentID  string `json:"agentId"`
		TicketID *string `json:"ticketId"`
		FocusID  *string `json:"focusId"`
		Reason   string `json:"reason"`
	} `json:"jobs"`
	RateLimitedAgents []struct {
		AgentID    string `json:"agentId"`
		ResumeAtMs int64  `json:"resumeAtMs"`
	} `json:"rateLimitedAgents"`
}

// decodeSchedule turns a raw ticket_schedule payload into bridge entries.
// Per-ticket stage jobs have their job id rewritten to the rigid
// "{ticketId}:{stage}" node-id convention regardless of what the scheduler
// agent proposed, since that invariant (§3 "Node identifier") is load
// bearing for stage-ordering and must not depend on agent output fidelity.
func decodeSchedule(raw []byte) ([]bridge.ScheduleEntry, map[string]int64, error) {
	var payload schedulePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("schedule: decoding payload: %w", err)
	}

	entries := make([]bridge.ScheduleEntry, 0, len(payload.Jobs))
	for _, j := range payload.Jobs {
		ticketID := ""
		if j.TicketID != nil {
			ticketID = *j.TicketID
		}
		focusID := ""
		if j.FocusID != nil {
			focusID = *j.FocusID
		}
		jobType := jobqueue.JobType(j.JobType)
		jobID := j.JobID
		if stage, ok := strings.CutPrefix(j.JobType, "ticket:"); ok && ticketID != "" {
			jobID = ticket.NodeID(ticketID, stage)
		}
		entries = append(entries, bridge.ScheduleEntry{
			JobID: jobID, JobType: jobType, AgentID: j.AgentID,
			TicketID: ticketID, FocusID: focusID,
		})
	}

	rateLimited := make(map[string]int64, len(payload.RateLimitedAgents))
	for _, r := range payload.RateLimitedAgents {
		rateLimited[r.AgentID] = r.ResumeAtMs
	}

	return entries, rateLimited, nil
}
