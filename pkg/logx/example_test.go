package logx

import (
	"fmt"
	"testing"
)

func ExampleLogger_coordinator_usage() {
	// Example of how the coordinator might use the logger.
	fmt.Println("=== Coordinator Logging Demo ===")

	// Main coordinator logger.
	coordinator := NewLogger("coordinator")
	coordinator.Info("Starting coordinator")
	coordinator.Debug("Loading configuration from %s", "config/config.yaml")

	// Engine loggers.
	narrator := NewLogger("narrator")
	primaryActor := NewLogger("actor")
	analyst := NewLogger("analyst")

	// Simulate a scenario turn.
	narrator.Info("Processing scene: %s", "tavern introduction")
	narrator.Debug("Composing system prompt from narrative style")

	primaryActor.Info("Received delivered event from narrator")
	primaryActor.Warn("High latency detected - estimated %dms", 800)

	analyst.Info("Generating analysis checkpoint")
	analyst.Error("Checkpoint generation failed: missing observation data")

	// Engines can create sub-loggers scoped to a specific agent instance.
	primaryActorInstance := primaryActor.WithAgentID("primary-actor-1")
	primaryActorInstance.Info("Composing reply for turn 3")

	// Shutdown sequence.
	coordinator.Info("Initiating graceful shutdown")
	narrator.Info("Finishing current scene description")
	primaryActor.Info("Completing in-flight events")
	analyst.Info("Finalizing checkpoint")
	coordinator.Info("All engines stopped successfully")

	fmt.Println("=== End Demo ===")
}

func TestCoordinatorUsage(t *testing.T) {
	ExampleLogger_coordinator_usage()
}
