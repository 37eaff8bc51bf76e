// Package activities implements the pluggable activity handlers a node can
// invoke: http, sql, sftp, s3, smb, mail, rabbitmq-producer, script, log,
// transform, and file.
package activities

import "github.com/flowforge/engine/internal/execctx"

// Activity is the uniform contract every node type implements: resolved
// input, the node's (secret-merged) config, and the run's execution context
// in, a JSON-shaped output map or an error out.
type Activity interface {
	Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error)
	Name() string
}

// Registry looks up an Activity implementation by its DSL type string.
type Registry struct {
	activities map[string]Activity
}

// NewRegistry builds a registry with every built-in activity registered.
func NewRegistry() *Registry {
	r := &Registry{activities: make(map[string]Activity)}
	r.Register(&LogActivity{})
	r.Register(&HTTPActivity{})
	r.Register(&SQLActivity{})
	r.Register(&SFTPActivity{})
	r.Register(&S3Activity{})
	r.Register(&SMBActivity{})
	r.Register(&MailActivity{})
	r.Register(&RabbitMQProducerActivity{})
	r.Register(&ScriptActivity{})
	r.Register(&TransformActivity{})
	r.Register(&FileActivity{})
	return r
}

// Register adds (or replaces) an activity under its own Name().
func (r *Registry) Register(activity Activity) {
	r.activities[activity.Name()] = activity
}

// Get retrieves an activity by its DSL type string.
func (r *Registry) Get(name string) (Activity, bool) {
	activity, ok := r.activities[name]
	return activity, ok
}

// List returns all registered activity type strings.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.activities))
	for name := range r.activities {
		names = append(names, name)
	}
	return names
}
