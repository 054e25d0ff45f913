package message

import "strings"

// Topic scheme: every routing key is rooted at a per-deployment {domain} prefix.
//   {domain}.agent.<id>.#       -- agent mailbox
//   {domain}.agent.public.#     -- broadcast to all agents
//   {domain}.sim_env.#          -- environment inbox
//   {domain}.command.factory.#  -- runner inbox
//   {domain}.monitoring         -- dashboard
//   {domain}.metrics            -- metric sink

// AgentTopic returns the routing key for agent id's private mailbox.
func AgentTopic(domain, id string) string {
	return domain + ".agent." + id
}

// PublicTopic returns the routing key all agents subscribe to for broadcasts.
func PublicTopic(domain string) string {
	return domain + ".agent.public"
}

// EnvTopic returns the routing key for the environment's inbox.
func EnvTopic(domain string) string {
	return domain + ".sim_env"
}

// FactoryTopic returns the routing key for the runner/orchestrator's inbox.
func FactoryTopic(domain string) string {
	return domain + ".command.factory"
}

// MonitoringTopic returns the routing key the dashboard subscribes to.
func MonitoringTopic(domain string) string {
	return domain + ".monitoring"
}

// MetricsTopic returns the routing key the metric sink subscribes to.
func MetricsTopic(domain string) string {
	return domain + ".metrics"
}

// Matches reports whether publishKey satisfies subscriptionKey, supporting a single
// trailing "#" wildcard matching any suffix; this is the only wildcard form in use.
func Matches(subscriptionKey, publishKey string) bool {
	if subscriptionKey == publishKey {
		return true
	}
	if strings.HasSuffix(subscriptionKey, ".#") {
		prefix := strings.TrimSuffix(subscriptionKey, "#")
		return strings.HasPrefix(publishKey, prefix) || publishKey+"." == prefix
	}
	return false
}
