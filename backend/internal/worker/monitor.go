package worker

import (
	"sync"
	"time"
)

// Level - оценка длительности шага относительно порогов монитора.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
)

// StepMonitor отслеживает длительность шагов солвера в скользящем окне.
type StepMonitor struct {
	mutex sync.RWMutex

	window            int
	warningThreshold  time.Duration
	criticalThreshold time.Duration

	last   time.Duration
	avg    time.Duration
	max    time.Duration
	total  uint64
	errors uint64

	recent       []time.Duration
	recentIndex  int
	windowFilled bool
}

// StepStats - снимок метрик монитора.
type StepStats struct {
	Last    time.Duration `json:"last"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
	Total   uint64        `json:"total"`
	Errors  uint64        `json:"errors"`
}

// NewStepMonitor создаёт монитор с окном windowSize шагов. Критический
// порог вдвое больше предупредительного.
func NewStepMonitor(windowSize int, warningThreshold time.Duration) *StepMonitor {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &StepMonitor{
		window:            windowSize,
		warningThreshold:  warningThreshold,
		criticalThreshold: warningThreshold * 2,
		recent:            make([]time.Duration, windowSize),
	}
}

// Record учитывает шаг и возвращает его оценку.
func (m *StepMonitor) Record(d time.Duration) Level {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.last = d
	m.total++
	if d > m.max {
		m.max = d
	}

	m.recent[m.recentIndex] = d
	m.recentIndex = (m.recentIndex + 1) % m.window
	if !m.windowFilled && m.recentIndex == 0 {
		m.windowFilled = true
	}
	m.recalculateAverage()

	switch {
	case m.warningThreshold <= 0:
		return LevelOK
	case d > m.criticalThreshold:
		return LevelCritical
	case d > m.warningThreshold:
		return LevelWarning
	}
	return LevelOK
}

// RecordError учитывает неудачный шаг.
func (m *StepMonitor) RecordError() {
	m.mutex.Lock()
	m.errors++
	m.mutex.Unlock()
}

func (m *StepMonitor) recalculateAverage() {
	limit := m.window
	if !m.windowFilled {
		limit = m.recentIndex
	}
	if limit == 0 {
		return
	}
	var total time.Duration
	for i := 0; i < limit; i++ {
		total += m.recent[i]
	}
	m.avg = total / time.Duration(limit)
}

// Stats возвращает снимок метрик.
func (m *StepMonitor) Stats() StepStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return StepStats{
		Last:    m.last,
		Average: m.avg,
		Max:     m.max,
		Total:   m.total,
		Errors:  m.errors,
	}
}
