package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"statusloop/internal/clock"
	"statusloop/internal/dispatch"
	"statusloop/internal/schedule"
)

const timeLayout = "2006-01-02 15:04:05"

func (s *Server) getStatus(c *gin.Context) {
	now := s.clk.Now()
	snap := s.state.Snapshot()
	total := len(snap.Days)

	currentDay, elapsed := 0, 0
	cycleStart := ""
	postsToday := 0
	next := []schedule.Upcoming{}
	if total > 0 && !snap.CycleStart.IsZero() {
		info := schedule.ResolveCycle(snap.CycleStart, now, total)
		currentDay = info.DayNumber
		elapsed = info.DaysElapsed
		cycleStart = clock.DateString(info.StartDate)
		postsToday = s.state.PostsOn(currentDay)
		next = s.state.Upcoming(currentDay, 3)
	}

	ok(c, gin.H{"data": gin.H{
		"isActive":           snap.Active,
		"totalDays":          total,
		"currentDay":         currentDay,
		"cycleStartDate":     cycleStart,
		"daysInCurrentCycle": elapsed,
		"totalInstances":     len(s.eng.Targets()),
		"currentTime":        now.Format(timeLayout),
		"postsToday":         postsToday,
		"nextPosts":          next,
	}})
}

func (s *Server) getSchedule(c *gin.Context) {
	snap := s.state.Snapshot()
	cycleStart := ""
	if !snap.CycleStart.IsZero() {
		cycleStart = clock.DateString(snap.CycleStart)
	}
	ok(c, gin.H{"data": gin.H{
		"schedule":              snap.Days,
		"isActive":              snap.Active,
		"currentCycleStartDate": cycleStart,
		"totalDays":             len(snap.Days),
	}})
}

func (s *Server) postSchedule(c *gin.Context) {
	var req struct {
		Schedule json.RawMessage `json:"schedule"`
		IsActive *bool           `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	raw := bytes.TrimSpace(req.Schedule)
	if len(raw) == 0 || raw[0] != '[' {
		fail(c, http.StatusBadRequest, "schedule must be an array")
		return
	}
	var days []schedule.Day
	if err := json.Unmarshal(raw, &days); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	norm, err := schedule.NormalizeDays(days)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.state.Replace(norm, req.IsActive, s.clk.Now())
	s.aud.Record("SCHEDULE_UPDATE",
		fmt.Sprintf("schedule updated: %d days programmed", len(norm)), nil)
	_ = s.eng.SaveNow(c.Request.Context())

	ok(c, gin.H{
		"message": "schedule saved",
		"data":    gin.H{"totalDays": len(norm), "isActive": s.state.Active()},
	})
}

func (s *Server) postToggle(c *gin.Context) {
	active := s.state.Toggle()
	verb := "deactivated"
	if active {
		verb = "activated"
	}
	s.aud.Record("SYSTEM_TOGGLE", "system "+verb, nil)
	_ = s.eng.SaveNow(c.Request.Context())
	ok(c, gin.H{"isActive": active})
}

func (s *Server) postRestartCycle(c *gin.Context) {
	now := s.clk.Now()
	s.state.RestartCycle(now)
	s.aud.Record("CYCLE_RESTART", "schedule cycle restarted", nil)
	_ = s.eng.SaveNow(c.Request.Context())
	ok(c, gin.H{
		"message":      "cycle restarted",
		"newStartDate": clock.DateString(now),
	})
}

func (s *Server) getLogs(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	ok(c, gin.H{"data": s.aud.Recent(limit)})
}

func (s *Server) postTestPost(c *gin.Context) {
	var req struct {
		Type      schedule.ContentType `json:"type"`
		Text      string               `json:"text"`
		MediaURL  string               `json:"mediaUrl"`
		Instances []string             `json:"instances"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Type == "" {
		fail(c, http.StatusBadRequest, "post type is required")
		return
	}
	if !req.Type.Valid() {
		fail(c, http.StatusBadRequest, fmt.Sprintf("unknown post type %q", req.Type))
		return
	}

	b := s.eng.TestPost(c.Request.Context(), dispatch.Content{
		Type:     req.Type,
		Text:     req.Text,
		MediaURL: req.MediaURL,
	}, req.Instances)

	ok(c, gin.H{"results": gin.H{
		"successCount": b.SuccessCount,
		"failureCount": b.FailureCount,
		"details":      b.Results,
	}})
}

type debugTest struct {
	Test   string `json:"test"`
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) getGatewayDebug(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	targets := s.eng.Targets()
	tests := make([]debugTest, 0, 2)

	instances, err := s.probe.FetchInstances(ctx)
	if err != nil {
		tests = append(tests, debugTest{Test: "gateway instances", Status: "failed", Error: err.Error()})
	} else {
		configured := make(map[string]bool, len(targets))
		for _, t := range targets {
			configured[t] = true
		}
		active := []string{}
		states := []gin.H{}
		for _, in := range instances {
			if !configured[in.Name] {
				continue
			}
			states = append(states, gin.H{"name": in.Name, "status": in.ConnectionStatus})
			if in.ConnectionStatus == "open" {
				active = append(active, in.Name)
			}
		}
		tests = append(tests, debugTest{Test: "gateway instances", Status: "success", Data: gin.H{
			"totalFound":       len(instances),
			"targetsFound":     len(active),
			"activeTargets":    active,
			"connectionStatus": states,
		}})
	}

	if len(targets) > 0 {
		err := s.probe.Deliver(ctx, targets[0], dispatch.Content{
			Type: schedule.ContentText,
			Text: "debug probe",
		})
		if err != nil {
			tests = append(tests, debugTest{Test: "status post format", Status: "failed", Error: err.Error()})
		} else {
			tests = append(tests, debugTest{Test: "status post format", Status: "success"})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway_url":          s.cfg.GatewayURL,
		"api_key_configured":   s.probe.KeyConfigured(),
		"instances_configured": targets,
		"debug_timestamp":      s.clk.Now().Format(timeLayout),
		"tests":                tests,
	})
}
