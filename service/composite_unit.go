/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"strings"
	"sync"
)

// CompositeUnit starts and stops several units as one.
type CompositeUnit struct {
	Units []Unit
}

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{Units: units}
}

// Start starts all units concurrently and blocks until every Start call returns.
// If any unit fails, the rest are stopped non-gracefully and a CompositeUnitError
// with start and stop errors is sent to fatalError.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	var (
		mu        sync.Mutex
		startErrs []error
		wg        sync.WaitGroup
		failed    = make(chan struct{})
		failOnce  sync.Once
		allDone   = make(chan struct{})
	)
	for _, unit := range cu.Units {
		wg.Add(1)
		go func(unit Unit) {
			defer wg.Done()
			unitErr := make(chan error, 1)
			unit.Start(unitErr)
			select {
			case err := <-unitErr:
				mu.Lock()
				startErrs = append(startErrs, err)
				mu.Unlock()
				failOnce.Do(func() { close(failed) })
			default:
			}
		}(unit)
	}
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		select {
		case <-failed:
		default:
			return
		}
	case <-failed:
	}

	stopErr := cu.Stop(false)
	<-allDone

	mu.Lock()
	errs := append([]error(nil), startErrs...)
	mu.Unlock()
	var cuErr *CompositeUnitError
	if errors.As(stopErr, &cuErr) {
		errs = append(errs, cuErr.UnitErrors...)
	}
	fatalError <- &CompositeUnitError{UnitErrors: errs}
}

// Stop stops all units concurrently and returns CompositeUnitError if any of them fails.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	errs := make([]error, len(cu.Units))
	var wg sync.WaitGroup
	for i, unit := range cu.Units {
		wg.Add(1)
		go func(i int, unit Unit) {
			defer wg.Done()
			errs[i] = unit.Stop(gracefully)
		}(i, unit)
	}
	wg.Wait()

	var unitErrs []error
	for _, err := range errs {
		if err != nil {
			unitErrs = append(unitErrs, err)
		}
	}
	if len(unitErrs) != 0 {
		return &CompositeUnitError{UnitErrors: unitErrs}
	}
	return nil
}

// MustRegisterMetrics registers metrics of all units that own them.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, unit := range cu.Units {
		if mr, ok := unit.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics of all units that own them.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, unit := range cu.Units {
		if mr, ok := unit.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError holds errors of the composed units.
type CompositeUnitError struct {
	UnitErrors []error
}

func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap returns errors of the composed units.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
