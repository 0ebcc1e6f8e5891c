package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// TargetFlags is shared by the verbs that address one service or "all".
type TargetFlags struct {
	ConfigPath string
	Target     string // service name or "all"
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type BootstrapFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	ConfigPath        string
	ReconcileInterval time.Duration
}
