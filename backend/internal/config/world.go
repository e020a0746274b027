// Package config содержит параметры мира. Все поля необязательные: что не
// задано, заполняется значениями по умолчанию при Resolve.
package config

import (
	"bytes"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Значения по умолчанию для солвера.
const (
	DefaultEpsilon          float32 = 10e-6
	DefaultFixedTimeStep            = 1.0 / 60.0
	DefaultMaxSubSteps              = 4
	DefaultSolverIterations         = 10
	// DefaultDebugDrawMode - только каркас (DrawWireframe).
	DefaultDebugDrawMode uint32 = 1
)

// DefaultGravity - ускорение свободного падения по умолчанию.
var DefaultGravity = mgl32.Vec3{0, -9.8, 0}

// WorldConfig - параметры мира, переданные хостом с INIT.
type WorldConfig struct {
	Gravity          *mgl32.Vec3 `mapstructure:"gravity" json:"gravity,omitempty"`
	Epsilon          *float32    `mapstructure:"epsilon" json:"epsilon,omitempty"`
	FixedTimeStep    *float64    `mapstructure:"fixedTimeStep" json:"fixedTimeStep,omitempty"`
	MaxSubSteps      *int        `mapstructure:"maxSubSteps" json:"maxSubSteps,omitempty"`
	SolverIterations *int        `mapstructure:"solverIterations" json:"solverIterations,omitempty"`
	DebugDrawMode    *uint32     `mapstructure:"debugDrawMode" json:"debugDrawMode,omitempty"`
}

// Resolved - параметры мира после подстановки значений по умолчанию.
type Resolved struct {
	Gravity          mgl32.Vec3
	Epsilon          float32
	FixedTimeStep    float64
	MaxSubSteps      int
	SolverIterations int
	DebugDrawMode    uint32
}

// FromMap собирает WorldConfig из произвольной карты. Ключи со значением nil
// отбрасываются, как будто их не передавали.
func FromMap(raw map[string]any) (WorldConfig, error) {
	var cfg WorldConfig

	clean := make(map[string]any, len(raw))
	for k, v := range raw {
		if v != nil {
			clean[k] = v
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return cfg, fmt.Errorf("config: create decoder: %w", err)
	}
	if err := decoder.Decode(clean); err != nil {
		return cfg, fmt.Errorf("config: decode world config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Parse читает WorldConfig из JSON-объекта. Пустой ввод - конфигурация
// по умолчанию, поля со значением null считаются незаданными.
func Parse(data []byte) (WorldConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return WorldConfig{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return WorldConfig{}, fmt.Errorf("config: parse world config: %w", err)
	}
	return FromMap(raw)
}

// Validate проверяет заданные поля.
func (c WorldConfig) Validate() error {
	if c.FixedTimeStep != nil && *c.FixedTimeStep <= 0 {
		return fmt.Errorf("config: fixedTimeStep must be positive, got %v", *c.FixedTimeStep)
	}
	if c.MaxSubSteps != nil && *c.MaxSubSteps < 1 {
		return fmt.Errorf("config: maxSubSteps must be at least 1, got %d", *c.MaxSubSteps)
	}
	if c.SolverIterations != nil && *c.SolverIterations < 1 {
		return fmt.Errorf("config: solverIterations must be at least 1, got %d", *c.SolverIterations)
	}
	if c.Epsilon != nil && *c.Epsilon < 0 {
		return fmt.Errorf("config: epsilon must not be negative, got %v", *c.Epsilon)
	}
	return nil
}

// Resolve подставляет значения по умолчанию вместо незаданных полей.
func (c WorldConfig) Resolve() Resolved {
	r := Resolved{
		Gravity:          DefaultGravity,
		Epsilon:          DefaultEpsilon,
		FixedTimeStep:    DefaultFixedTimeStep,
		MaxSubSteps:      DefaultMaxSubSteps,
		SolverIterations: DefaultSolverIterations,
		DebugDrawMode:    DefaultDebugDrawMode,
	}
	if c.Gravity != nil {
		r.Gravity = *c.Gravity
	}
	if c.Epsilon != nil {
		r.Epsilon = *c.Epsilon
	}
	if c.FixedTimeStep != nil {
		r.FixedTimeStep = *c.FixedTimeStep
	}
	if c.MaxSubSteps != nil {
		r.MaxSubSteps = *c.MaxSubSteps
	}
	if c.SolverIterations != nil {
		r.SolverIterations = *c.SolverIterations
	}
	if c.DebugDrawMode != nil {
		r.DebugDrawMode = *c.DebugDrawMode
	}
	return r
}
