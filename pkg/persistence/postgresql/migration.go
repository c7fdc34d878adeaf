package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Identity: actors, roles and permissions
			CREATE TABLE roles (
				id UUID PRIMARY KEY,
				name VARCHAR(50) NOT NULL UNIQUE,
				description TEXT
			);

			CREATE TABLE permissions (
				id UUID PRIMARY KEY,
				name VARCHAR(100) NOT NULL UNIQUE,
				resource VARCHAR(50),
				action VARCHAR(50),
				description TEXT
			);

			CREATE TABLE role_permissions (
				role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
				PRIMARY KEY (role_id, permission_id)
			);

			CREATE TABLE users (
				id UUID PRIMARY KEY,
				email VARCHAR(255) NOT NULL UNIQUE,
				full_name VARCHAR(255),
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE user_roles (
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				PRIMARY KEY (user_id, role_id)
			);

			CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
		`,
		2: `
			-- Workflow definitions
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				description TEXT,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_by UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflow_steps (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_order INTEGER NOT NULL CHECK (step_order > 0),
				name VARCHAR(100) NOT NULL,
				description TEXT,
				required_role_id UUID,
				required_permission_id UUID,
				sla_hours INTEGER NOT NULL DEFAULT 24 CHECK (sla_hours > 0),
				condition_config JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (workflow_id, step_order)
			);

			CREATE TABLE step_transitions (
				id UUID PRIMARY KEY,
				from_step_id UUID NOT NULL REFERENCES workflow_steps(id) ON DELETE CASCADE,
				to_step_id UUID REFERENCES workflow_steps(id) ON DELETE CASCADE,
				outcome VARCHAR(50) NOT NULL,
				condition_config JSONB,
				position INTEGER NOT NULL
			);

			CREATE INDEX idx_step_transitions_lookup ON step_transitions(from_step_id, outcome, position);
		`,
		3: `
			-- Workflow runtime
			CREATE TABLE workflow_requests (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				requester_id UUID NOT NULL,
				current_status VARCHAR(20) NOT NULL CHECK (current_status IN
					('CREATED', 'IN_PROGRESS', 'APPROVED', 'REJECTED', 'ESCALATED', 'COMPLETED')),
				current_step_id UUID REFERENCES workflow_steps(id),
				request_data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_requests_workflow_id ON workflow_requests(workflow_id);
			CREATE INDEX idx_workflow_requests_status ON workflow_requests(current_status);

			CREATE TABLE request_steps (
				id UUID PRIMARY KEY,
				request_id UUID NOT NULL REFERENCES workflow_requests(id) ON DELETE CASCADE,
				step_id UUID NOT NULL REFERENCES workflow_steps(id),
				status VARCHAR(50) NOT NULL,
				assigned_to UUID,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				sla_deadline TIMESTAMP WITH TIME ZONE NOT NULL,
				is_sla_breached BOOLEAN NOT NULL DEFAULT false,
				decision_data JSONB,
				comments TEXT
			);

			-- At most one open execution per request
			CREATE UNIQUE INDEX uq_request_steps_open ON request_steps(request_id) WHERE completed_at IS NULL;
			CREATE INDEX idx_request_steps_sla ON request_steps(sla_deadline)
				WHERE completed_at IS NULL AND is_sla_breached = false;

			CREATE TABLE request_state_history (
				id UUID PRIMARY KEY,
				request_id UUID NOT NULL REFERENCES workflow_requests(id) ON DELETE CASCADE,
				from_status VARCHAR(20),
				to_status VARCHAR(20) NOT NULL,
				changed_by UUID,
				reason TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_request_state_history_request_id ON request_state_history(request_id, created_at);

			CREATE TABLE escalations (
				id UUID PRIMARY KEY,
				request_step_id UUID NOT NULL REFERENCES request_steps(id) ON DELETE CASCADE,
				escalation_level INTEGER NOT NULL DEFAULT 1,
				escalated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE,
				resolution_notes TEXT
			);

			CREATE INDEX idx_escalations_request_step_id ON escalations(request_step_id);

			CREATE TABLE audit_logs (
				id UUID PRIMARY KEY,
				user_id UUID,
				action VARCHAR(100) NOT NULL,
				resource_type VARCHAR(50) NOT NULL,
				resource_id VARCHAR(255) NOT NULL,
				request_id UUID,
				old_value JSONB,
				new_value JSONB,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_logs_request_id ON audit_logs(request_id, created_at);
			CREATE INDEX idx_audit_logs_action ON audit_logs(action);
		`,
	}
}
