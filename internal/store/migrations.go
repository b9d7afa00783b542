package store

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS firms (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL REFERENCES workspaces(id),
    name TEXT NOT NULL,
    website TEXT,
    contact_name TEXT,
    contact_email TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    review_reason TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_firms_workspace ON firms(workspace_id);
CREATE INDEX IF NOT EXISTS idx_firms_status ON firms(status);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL REFERENCES workspaces(id),
    initiator TEXT,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    total INTEGER DEFAULT 0,
    processed INTEGER DEFAULT 0,
    success INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    task_ids TEXT,
    log_ids TEXT,
    started_at TIMESTAMP,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id),
    firm_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    status TEXT NOT NULL,
    confidence REAL,
    summary TEXT,
    output TEXT,
    started_at TIMESTAMP,
    ended_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id);

CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    level TEXT,
    message TEXT
);

CREATE INDEX IF NOT EXISTS idx_logs_run ON logs(run_id);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    firm_id TEXT NOT NULL,
    request_id TEXT,
    status TEXT NOT NULL,
    attempt INTEGER DEFAULT 0,
    budget INTEGER DEFAULT 0,
    note TEXT,
    occurred_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_firm ON events(firm_id);
CREATE INDEX IF NOT EXISTS idx_events_request ON events(request_id);

CREATE TABLE IF NOT EXISTS requests (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    firm_id TEXT NOT NULL,
    run_id TEXT,
    mode TEXT NOT NULL,
    payload TEXT NOT NULL,
    form_url TEXT,
    status TEXT NOT NULL,
    execution_attempts INTEGER DEFAULT 0,
    max_attempts INTEGER NOT NULL,
    last_execution_start TIMESTAMP,
    last_execution_end TIMESTAMP,
    last_execution_status TEXT,
    next_retry_at TIMESTAMP,
    result_note TEXT,
    approved_by TEXT,
    approved_at TIMESTAMP,
    executed_at TIMESTAMP,
    prepared_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_requests_workspace ON requests(workspace_id);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
`
