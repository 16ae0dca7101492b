package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestScheduledTask_UnmarshalJSON(t *testing.T) {
	raw := `{
		"isEnabled": true,
		"schedule": [
			{"scheduleKind": "daily", "time": "09:00"},
			{"scheduleKind": "Weekly", "day": "Tuesday", "time": "5:30 PM"},
			{"scheduleKind": "MONTHLY", "dayOfMonth": 31, "time": "21:00:00.000"},
			{"scheduleKind": "FixedDate", "date": "2024-12-25", "time": "08:00"},
			{"scheduleKind": "Cron", "expression": "0 */2 * * *"}
		],
		"task": {"taskKind": "test", "debugMessage": "hello"}
	}`

	var st ScheduledTask
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	if !st.IsEnabled {
		t.Error("IsEnabled = false, want true")
	}
	if len(st.Schedules) != 5 {
		t.Fatalf("len(Schedules) = %d, want 5", len(st.Schedules))
	}
	kinds := []ScheduleKind{ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleFixedDate, ScheduleCron}
	for i, want := range kinds {
		if st.Schedules[i].Kind != want {
			t.Errorf("Schedules[%d].Kind = %q, want %q", i, st.Schedules[i].Kind, want)
		}
	}
	if got := *st.Schedules[1].Time; got != At(17, 30) {
		t.Errorf("weekly time = %v, want 17:30", got)
	}
	if got := time.Weekday(*st.Schedules[1].Day); got != time.Tuesday {
		t.Errorf("weekly day = %v, want Tuesday", got)
	}
	if st.Task.Kind != TaskTest || st.Task.Test == nil || st.Task.Test.DebugMessage != "hello" {
		t.Errorf("Task = %+v, want Test{hello}", st.Task)
	}
}

func TestSchedule_UnmarshalUnknownKind(t *testing.T) {
	var s Schedule
	err := json.Unmarshal([]byte(`{"scheduleKind":"Hourly","time":"09:00"}`), &s)
	if !errors.Is(err, ErrUnknownScheduleKind) {
		t.Errorf("Unmarshal error = %v, want ErrUnknownScheduleKind", err)
	}
}

func TestTask_UnmarshalJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing kind", `{"debugMessage":"x"}`},
		{"unknown kind", `{"taskKind":"SendFax"}`},
		{"unknown field", `{"taskKind":"Test","debugMessage":"x","extra":1}`},
		{"wrong type", `{"taskKind":"SendSms","phoneNumber":15551234567}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var task Task
			if err := json.Unmarshal([]byte(tt.raw), &task); err == nil {
				t.Errorf("Unmarshal(%s) should return error", tt.raw)
			}
		})
	}
}

func TestTask_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(NewTestTask("ping"))
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(out) != `{"taskKind":"Test","debugMessage":"ping"}` {
		t.Errorf("Marshal = %s", out)
	}

	var back Task
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if back.Test == nil || back.Test.DebugMessage != "ping" {
		t.Errorf("decoded = %+v", back)
	}

	if _, err := json.Marshal(Task{Kind: TaskSendSms}); err == nil {
		t.Error("Marshal of task without payload should return error")
	}
}

func int64p(v int64) *int64 { return &v }

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name      string
		task      Task
		wantField string
	}{
		{"test ok", NewTestTask("hi"), ""},
		{"test empty", NewTestTask(""), "debugMessage"},
		{
			"email ok",
			Task{Kind: TaskSendEmail, SendEmail: &SendEmailTask{
				ToRecipients: []string{"a@example.com"}, Subject: "s", Message: "m",
			}},
			"",
		},
		{
			"email bad sender",
			Task{Kind: TaskSendEmail, SendEmail: &SendEmailTask{
				Sender: "nope", ToRecipients: []string{"a@example.com"}, Subject: "s", Message: "m",
			}},
			"sender",
		},
		{
			"email no recipients",
			Task{Kind: TaskSendEmail, SendEmail: &SendEmailTask{Subject: "s", Message: "m"}},
			"toRecipients",
		},
		{
			"email bad cc",
			Task{Kind: TaskSendEmail, SendEmail: &SendEmailTask{
				ToRecipients: []string{"a@example.com"}, CCRecipients: []string{"b@"}, Subject: "s", Message: "m",
			}},
			"ccRecipients[0]",
		},
		{
			"email message and template",
			Task{Kind: TaskSendEmail, SendEmail: &SendEmailTask{
				ToRecipients: []string{"a@example.com"}, Subject: "s", Message: "m", TemplateFilePath: "t.html",
			}},
			"message",
		},
		{"sms ok", Task{Kind: TaskSendSms, SendSms: &SendSmsTask{PhoneNumber: "15551234567", Message: "m"}}, ""},
		{"sms too short", Task{Kind: TaskSendSms, SendSms: &SendSmsTask{PhoneNumber: "5551234567", Message: "m"}}, "phoneNumber"},
		{"sms not north american", Task{Kind: TaskSendSms, SendSms: &SendSmsTask{PhoneNumber: "44555123456", Message: "m"}}, "phoneNumber"},
		{"sms no message", Task{Kind: TaskSendSms, SendSms: &SendSmsTask{PhoneNumber: "15551234567"}}, "message"},
		{
			"discord ok",
			Task{Kind: TaskDiscordReminder, DiscordReminder: &DiscordReminderTask{RecipientName: "family", Message: "m"}},
			"",
		},
		{
			"discord both recipients",
			Task{Kind: TaskDiscordReminder, DiscordReminder: &DiscordReminderTask{
				Recipient: &DiscordRecipient{GuildID: int64p(1), ChannelID: int64p(2)}, RecipientName: "family", Message: "m",
			}},
			"recipient",
		},
		{
			"discord recipient missing channel",
			Task{Kind: TaskDiscordReminder, DiscordReminder: &DiscordReminderTask{
				Recipient: &DiscordRecipient{GuildID: int64p(1)}, TemplateFilePath: "t.md",
			}},
			"recipient.channelId",
		},
		{
			"token ok",
			Task{Kind: TaskForceRefreshToken, ForceRefreshToken: &ForceRefreshTokenTask{
				TokensToRefresh: []TokenDetails{{UserEmail: "me@example.com"}},
			}},
			"",
		},
		{
			"token empty email",
			Task{Kind: TaskForceRefreshToken, ForceRefreshToken: &ForceRefreshTokenTask{
				TokensToRefresh: []TokenDetails{{}},
			}},
			"tokensToRefresh[0].userEmail",
		},
		{"no payload", Task{Kind: TaskSendSms}, "task"},
		{"unknown kind", Task{Kind: "SendFax"}, "taskKind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() returned error: %v", err)
				}
				return
			}
			var ve ValidationErrors
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want ValidationErrors", err)
			}
			found := false
			for _, e := range ve {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want error on field %q", err, tt.wantField)
			}
		})
	}
}

func TestScheduledTask_Validate(t *testing.T) {
	st := ScheduledTask{
		IsEnabled: true,
		Schedules: []Schedule{DailySchedule(At(9, 0)), {Kind: ScheduleMonthly, Time: &TimeOfDay{9, 0, 0}}},
	}
	err := st.Validate()
	if err == nil {
		t.Fatal("Validate() should return error")
	}
	msg := err.Error()
	for _, want := range []string{"schedule[1].dayOfMonth", "task:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Validate() = %q, want it to mention %q", msg, want)
		}
	}

	if err := (ScheduledTask{Task: NewTestTask("x")}).Validate(); err == nil {
		t.Error("Validate() without schedules should return error")
	}
}
