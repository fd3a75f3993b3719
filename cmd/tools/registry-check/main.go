// cmd/tools/registry-check/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	apperrors "feed-workers/internal/common/errors"
	"feed-workers/internal/common/validation"
	"feed-workers/pkg/registry"
)

// registeredTaskTypes must each have exactly one registry entry.
var registeredTaskTypes = []string{
	"rank-feed",
	"record-feed-feedback",
	"refresh-market-benchmarks",
	"optimize-result-cache",
	"invalidate-result-cache",
}

func main() {
	path := flag.String("path", "", "Path to an activity registry file (defaults to the embedded registry)")
	flag.Parse()

	var (
		reg *registry.ActivityRegistry
		err error
	)
	if *path == "" {
		reg, err = registry.Default()
	} else {
		reg, err = registry.LoadRegistry(*path)
	}
	if err != nil {
		fmt.Printf("Error loading registry: %v\n", err)
		os.Exit(1)
	}

	if err := check(reg); err != nil {
		fmt.Printf("Registry validation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
}

func check(reg *registry.ActivityRegistry) error {
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)
	for _, activity := range reg.Activities {
		if activity.ID == "" {
			return fmt.Errorf("activity missing required field: ID")
		}
		if ids[activity.ID] {
			return fmt.Errorf("duplicate activity ID: %s", activity.ID)
		}
		ids[activity.ID] = true

		if activity.DisplayName == "" {
			return fmt.Errorf("activity %s missing required field: DisplayName", activity.ID)
		}
		if activity.TaskType == "" {
			return fmt.Errorf("activity %s missing required field: TaskType", activity.ID)
		}
		if activity.Category == "" {
			return fmt.Errorf("activity %s missing required field: Category", activity.ID)
		}
		if activity.Timeout != "" {
			if _, err := time.ParseDuration(activity.Timeout); err != nil {
				return fmt.Errorf("activity %s has invalid timeout %q", activity.ID, activity.Timeout)
			}
		}
		for _, code := range activity.ErrorCodes {
			if _, ok := apperrors.BPMNErrorMapping[apperrors.ErrorCode(code)]; !ok {
				return fmt.Errorf("activity %s declares unknown error code %s", activity.ID, code)
			}
		}
		taskTypes[activity.TaskType] = true
	}

	for _, taskType := range registeredTaskTypes {
		if !taskTypes[taskType] {
			return fmt.Errorf("worker %s has no registry entry", taskType)
		}
	}

	if _, err := validation.NewValidator(reg); err != nil {
		return err
	}
	return nil
}
