package setup

import "encoding/json"

// Publisher is a published port of a compose container
type Publisher struct {
	URL           string
	TargetPort    int
	PublishedPort int
	Protocol      string
}

// Container is a running container, which is returned by running
// `docker compose ps --format=json`, which is then parsed into
// this struct
type Container struct {
	ID         string
	Name       string
	Command    string
	Project    string
	Service    string
	State      string
	Health     string
	ExitCode   int
	Publishers []Publisher
}

// Health is the health-check section of a container's inspected state. It's
// only present when the service defines a health check.
type Health struct {
	Status        string
	FailingStreak int
}

// ContainerState is the output of `docker inspect --format='{{json .State}}'`
type ContainerState struct {
	Status     string
	Running    bool
	Paused     bool
	Restarting bool
	OOMKilled  bool
	Dead       bool
	ExitCode   int
	Error      string
	StartedAt  string
	FinishedAt string
	Health     *Health
}

// Ready reports whether the container can serve. When a health check is
// configured only a healthy container is ready, otherwise a running one is.
func (s ContainerState) Ready() bool {
	if s.Health != nil {
		return s.Health.Status == "healthy"
	}
	return s.Status == "running"
}

func decodeState(out string, state *ContainerState) error {
	return json.Unmarshal([]byte(out), state)
}
