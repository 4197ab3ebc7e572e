package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nugget/thingy-control/internal/config"
	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/mqtt"
	"github.com/nugget/thingy-control/internal/source"
)

// QueuePlan lists the broker queues a configuration uses.
type QueuePlan struct {
	Mode      string   `json:"mode"`
	Input     string   `json:"input"`
	Consumed  []string `json:"consumed"`
	Published []string `json:"published"`
}

// planQueues derives the queue names cfg would subscribe to and
// publish on, without connecting. Bindings are built over nil state;
// only their identifiers are read.
func planQueues(cfg *config.Config) QueuePlan {
	plan := QueuePlan{Mode: cfg.Mode, Input: cfg.Classifier.Input}
	dev, svc := cfg.Device.ID, cfg.Device.Service

	switch cfg.Mode {
	case config.ModeDevice:
		if cfg.Classifier.Input == config.InputQueue {
			plan.Consumed = mqtt.QueueNames(dev, svc, source.ControlFields(nil))
		}
		if cfg.MQTT.Notify {
			for _, f := range control.Fields() {
				plan.Published = append(plan.Published, mqtt.FieldQueue(dev, svc, f))
			}
		}
	case config.ModeHost:
		switch cfg.Classifier.Input {
		case config.InputSensor:
			plan.Consumed = mqtt.QueueNames(dev, svc, source.SensorChannels(nil))
		case config.InputControl:
			plan.Consumed = mqtt.QueueNames(dev, svc, source.ControlFields(nil))
		}
	}
	return plan
}

// runTopics prints the queue plan for the loaded configuration.
func runTopics(w io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	plan := planQueues(cfg)

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	fmt.Fprintf(w, "mode: %s (input %s)\n", plan.Mode, plan.Input)
	if !cfg.MQTT.Configured() {
		fmt.Fprintln(w, "mqtt: not configured")
	}
	printQueues(w, "consumed", plan.Consumed)
	printQueues(w, "published", plan.Published)
	return nil
}

func printQueues(w io.Writer, label string, queues []string) {
	if len(queues) == 0 {
		fmt.Fprintf(w, "%s: none\n", label)
		return
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, q := range queues {
		fmt.Fprintf(w, "  %s\n", q)
	}
}
