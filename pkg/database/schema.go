package database

import (
	"context"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Research Tasks Table
	tasksQuery := `
		CREATE TABLE IF NOT EXISTS research_tasks (
			id UUID PRIMARY KEY,
			query TEXT NOT NULL,
			async_mode BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'pending',
			progress JSONB,
			result JSONB,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, tasksQuery); err != nil {
		return fmt.Errorf("failed to create research_tasks table: %w", err)
	}

	// Tables created before progress tracking lack the column.
	if _, err := db.Pool.Exec(ctx, "ALTER TABLE research_tasks ADD COLUMN IF NOT EXISTS progress JSONB"); err != nil {
		return fmt.Errorf("failed to add progress column: %w", err)
	}

	// 2. Research Logs Table. Tasks may live in another backend, so task_id
	// carries no foreign key.
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			task_id UUID NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	// Indexes for faster querying
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_task_id ON research_logs(task_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_tasks_created_at ON research_tasks(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_tasks: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_tasks_status ON research_tasks(status)"); err != nil {
		return fmt.Errorf("failed to create status index on research_tasks: %w", err)
	}

	return nil
}
