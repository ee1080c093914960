package domain

import (
	"context"
	"time"
)

// GrantJobCause описывает источник задачи на выдачу доступа.
type GrantJobCause string

const (
	// GrantCauseEntry — пользователь пересёк порог свежей записью.
	GrantCauseEntry GrantJobCause = "entry"
	// GrantCauseSweep — задача поставлена сверкой (повтор после сбоя).
	GrantCauseSweep GrantJobCause = "sweep"
)

// GrantJob содержит информацию о задаче выдачи доступа в общий чат.
type GrantJob struct {
	ID          string        `json:"job_id"`
	UserTGID    int64         `json:"user_tg_id"`
	Date        time.Time     `json:"date"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       GrantJobCause `json:"cause"`
}

// GrantAckFunc подтверждает обработку или возвращает задачу в очередь.
type GrantAckFunc func(success bool) error

// GrantQueue описывает очередь задач выдачи доступа между гейтвеем и реконсайлером.
type GrantQueue interface {
	Enqueue(ctx context.Context, job GrantJob) error
	Receive(ctx context.Context) (GrantJob, GrantAckFunc, error)
}
