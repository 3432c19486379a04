package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flows, drafts and immutable published versions
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_template BOOLEAN NOT NULL DEFAULT false,
				latest_version INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_owner_id ON flows(owner_id);
			CREATE INDEX idx_flows_created_at ON flows(created_at);

			CREATE TABLE drafts (
				flow_id VARCHAR(255) PRIMARY KEY REFERENCES flows(id) ON DELETE CASCADE,
				owner_id VARCHAR(255) NOT NULL,
				revision INT NOT NULL,
				graph JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE flow_versions (
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				version INT NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_template BOOLEAN NOT NULL DEFAULT false,
				graph JSONB NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (flow_id, version)
			);
		`,
		2: `
			-- Enrollments and the execution event log
			CREATE TABLE enrollments (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				flow_version INT NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				member_id VARCHAR(255) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'waiting', 'completed', 'failed', 'cancelled')),
				next_run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				last_event_id VARCHAR(255) NOT NULL DEFAULT '',
				attempts INT NOT NULL DEFAULT 0,
				steps INT NOT NULL DEFAULT 0,
				claim_token VARCHAR(255) NOT NULL DEFAULT '',
				claimed_until TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_enrollments_live_member ON enrollments(flow_id, member_id)
				WHERE status IN ('active', 'waiting');
			CREATE INDEX idx_enrollments_due ON enrollments(next_run_at)
				WHERE status IN ('active', 'waiting');
			CREATE INDEX idx_enrollments_flow_id ON enrollments(flow_id);
			CREATE INDEX idx_enrollments_completed_at ON enrollments(completed_at);

			CREATE TABLE execution_events (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				enrollment_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				at TIMESTAMP WITH TIME ZONE NOT NULL,
				payload JSONB
			);

			CREATE INDEX idx_execution_events_enrollment_id ON execution_events(enrollment_id, at);
			CREATE INDEX idx_execution_events_flow_id ON execution_events(flow_id, at);
		`,
		3: `
			-- Member store consumed by condition evaluation
			CREATE TABLE members (
				id VARCHAR(255) PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				email VARCHAR(320) NOT NULL,
				tags JSONB NOT NULL DEFAULT '[]',
				fields JSONB NOT NULL DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_members_owner_id ON members(owner_id);

			CREATE TABLE member_interactions (
				id VARCHAR(255) PRIMARY KEY,
				member_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				ref TEXT NOT NULL DEFAULT '',
				at TIMESTAMP WITH TIME ZONE NOT NULL,
				properties JSONB
			);

			CREATE INDEX idx_member_interactions_member_id ON member_interactions(member_id, at);
		`,
		4: `
			-- Arrival ordinal for dispatch keys and the event outbox
			ALTER TABLE enrollments ADD COLUMN visit INT NOT NULL DEFAULT 0;

			ALTER TABLE execution_events ADD COLUMN published_at TIMESTAMP WITH TIME ZONE;
			UPDATE execution_events SET published_at = at;

			CREATE INDEX idx_execution_events_unpublished ON execution_events(at, id)
				WHERE published_at IS NULL;
		`,
	}
}
