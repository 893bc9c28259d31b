package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
)

// loadConfigFile reads -conf's JSON object into the map handed to a
// verticle's Start as its config parameter. An empty path is not an
// error: the verticle just gets a nil config.
func loadConfigFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// waitForSignal blocks until SIGINT or SIGTERM, the launcher's cue to
// undeploy and exit cleanly rather than leaving instances running.
func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
