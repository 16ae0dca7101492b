package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// triggerTimeLayout is the sortable ISO-8601 seconds form hashed into
// trigger ids.
const triggerTimeLayout = "2006-01-02T15:04:05"

// TriggerEvent is emitted once per distinct fire instant of an enabled
// ScheduledTask inside an evaluation window.
type TriggerEvent struct {
	TriggerID              string    `json:"triggerId"`
	TriggerTimeUTC         time.Time `json:"triggerTimeUtc"`
	ScheduleConfigName     string    `json:"scheduleConfigName"`
	ScheduleConfigChecksum string    `json:"scheduleConfigChecksum"`
	EvaluatingInvocationID string    `json:"evaluatingInvocationId"`
	EvaluationTimeUTC      time.Time `json:"evaluationTimeUtc"`
	Task                   Task      `json:"task"`
}

// NewTriggerID derives the identity of a trigger from the config checksum
// and the UTC fire instant. Equal inputs always give equal ids.
func NewTriggerID(checksum string, triggerTimeUTC time.Time) string {
	sum := sha256.Sum256([]byte(checksum + triggerTimeUTC.UTC().Format(triggerTimeLayout)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// LogString is a compact form for log lines.
func (e TriggerEvent) LogString() string {
	return fmt.Sprintf("Id:%s,Conf:%s,ConfSHA:%s,Sched:%s",
		short(e.TriggerID), e.ScheduleConfigName, short(e.ScheduleConfigChecksum), e.EvaluatingInvocationID)
}

func short(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	return s
}
