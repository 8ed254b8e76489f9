package main

import (
	"kvs/core"
)

// NewStore opens the store described by config
func NewStore(config *core.EngineConfig) (core.Store, error) {
	return core.NewEngine(config)
}
