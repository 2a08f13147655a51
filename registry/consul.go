package registry

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hashicorp/consul/api"
)

const appName = "roadassist"

type Registration struct {
	ConsulAddress string
	ServiceName   string
	ServiceHost   string
	Port          int
	GRPCPort      int
}

// ServiceID is the consul id of one instance of the service
func (r Registration) ServiceID() string {
	return r.ServiceName + "-" + r.ServiceHost + "-" + strconv.Itoa(r.Port)
}

// agentRegistration builds the consul payload: an HTTP check on /health and,
// when a gRPC port is set, a gRPC health check.
func (r Registration) agentRegistration() *api.AgentServiceRegistration {
	checks := api.AgentServiceChecks{
		{
			Name:                           "http-health",
			HTTP:                           fmt.Sprintf("http://%s:%d/health", r.ServiceHost, r.Port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if r.GRPCPort > 0 {
		checks = append(checks, &api.AgentServiceCheck{
			Name:     "grpc-health",
			GRPC:     fmt.Sprintf("%s:%d/%s", r.ServiceHost, r.GRPCPort, r.ServiceName),
			Interval: "10s",
			Timeout:  "5s",
		})
	}
	return &api.AgentServiceRegistration{
		ID:      r.ServiceID(),
		Name:    r.ServiceName,
		Port:    r.Port,
		Address: r.ServiceHost,
		Tags:    []string{"http", "grpc"},
		Meta:    map[string]string{"grpcPort": strconv.Itoa(r.GRPCPort)},
		Checks:  checks,
	}
}

// Register announces the service to consul and returns a func that
// deregisters it.
func Register(r Registration, logger *slog.Logger) (func(), error) {
	consulConfig := api.DefaultConfig()
	consulConfig.Address = r.ConsulAddress
	consulClient, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	registration := r.agentRegistration()
	if err := consulClient.Agent().ServiceRegister(registration); err != nil {
		return nil, fmt.Errorf("failed to register with Consul: %w", err)
	}
	logger.Info("Registered with Consul", "serviceID", registration.ID, "consul", r.ConsulAddress, "app", appName)

	return func() {
		if err := consulClient.Agent().ServiceDeregister(registration.ID); err != nil {
			logger.Error("Failed to deregister from Consul", "serviceID", registration.ID, "error", err, "app", appName)
			return
		}
		logger.Info("Deregistered from Consul", "serviceID", registration.ID, "app", appName)
	}, nil
}
