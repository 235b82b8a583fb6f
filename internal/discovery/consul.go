// Package discovery registers the service with Consul so other
// platform services can find it.
package discovery

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/config"
)

// Connect establishes a connection to the Consul agent.
func Connect(consulAddress string, logger *zap.Logger) (*consulapi.Client, error) {
	logger.Info("Connecting to Consul agent", zap.String("address", consulAddress))

	clientConfig := consulapi.DefaultConfig()
	clientConfig.Address = consulAddress
	client, err := consulapi.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect/ping consul agent: %w", err)
	}

	logger.Info("Successfully connected to Consul agent", zap.String("address", consulAddress))
	return client, nil
}

// RegisterService registers this service instance with Consul, with an
// HTTP health check against /health.
func RegisterService(client *consulapi.Client, cfg *config.ConsulConfig, port int, logger *zap.Logger) error {
	serviceID := cfg.ServiceID
	if serviceID == "" {
		serviceID = cfg.ServiceName
	}

	checkAddress := cfg.ServiceAddress
	if checkAddress == "" || checkAddress == "0.0.0.0" || checkAddress == "::" {
		checkAddress = "127.0.0.1"
	}

	deregisterAfter := cfg.HealthCheckDeregisterCriticalAfter
	registration := &consulapi.AgentServiceRegistration{
		ID:      serviceID,
		Name:    cfg.ServiceName,
		Port:    port,
		Address: cfg.ServiceAddress,
		Tags:    []string{"inference", "billing"},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", checkAddress, port),
			Interval:                       cfg.HealthCheckInterval.String(),
			Timeout:                        cfg.HealthCheckTimeout.String(),
			DeregisterCriticalServiceAfter: deregisterAfter.String(),
		},
	}

	logger.Info("Registering service with Consul",
		zap.String("service_id", serviceID),
		zap.String("service_name", cfg.ServiceName),
		zap.Int("port", port),
		zap.String("check_url", registration.Check.HTTP),
	)

	if err := client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service '%s' with Consul: %w", cfg.ServiceName, err)
	}
	return nil
}

// DeregisterService removes this instance from Consul. Called during
// graceful shutdown.
func DeregisterService(client *consulapi.Client, serviceID string, logger *zap.Logger) error {
	logger.Info("Deregistering service from Consul", zap.String("service_id", serviceID))
	if err := client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service '%s': %w", serviceID, err)
	}
	return nil
}
