// Simulated controller instance: power-on sequence, cyclic byte areas and
// scripted record traffic, standing in for a real runtime.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"simbridge/internal/controller"
	"simbridge/internal/global"
	"simbridge/internal/record"
	"time"
)

var (
	ErrClosed     = errors.New("instance closed")
	ErrNotPending = errors.New("no pending record operation")
)

func New(name string, options Options) (new *Instance) {
	new = &Instance{
		name:    name,
		options: options,
		state:   controller.Off,
		inputs:  make([]byte, options.InputSize),
		outputs: make([]byte, options.OutputSize),
		scale:   1.0,
		pending: make(map[pendingKey]struct{}),
	}
	return
}

func (instance *Instance) Name() string { return instance.name }

// Boots through Booting and Startup into Run. Asynchronous when BootDelay is set.
func (instance *Instance) PowerOn() (err error) {
	instance.mu.Lock()
	if instance.closed {
		instance.mu.Unlock()
		err = ErrClosed
		return
	}
	if instance.state != controller.Off && instance.state != controller.Invalid {
		instance.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	instance.bootStop = stop
	instance.mu.Unlock()

	instance.transition(controller.Booting)
	if instance.options.BootDelay <= 0 {
		instance.transition(controller.Startup)
		instance.transition(controller.Run)
		return
	}

	go func() {
		for _, next := range []controller.OperatingState{controller.Startup, controller.Run} {
			select {
			case <-stop:
				return
			case <-time.After(instance.options.BootDelay):
			}
			instance.transition(next)
		}
	}()
	return
}

// Moves to next and raises the state change event
func (instance *Instance) SetState(next controller.OperatingState) {
	instance.transition(next)
}

func (instance *Instance) transition(next controller.OperatingState) {
	instance.mu.Lock()
	previous := instance.state
	if previous == next || (instance.state == controller.ShuttingDown && next != controller.Invalid) {
		instance.mu.Unlock()
		return
	}
	instance.state = next
	handler := instance.handlers.OnOperatingStateChanged
	instance.mu.Unlock()

	if handler != nil {
		handler(previous, next)
	}
}

// Goes through ShuttingDown to Invalid
func (instance *Instance) Shutdown() {
	instance.mu.Lock()
	if instance.bootStop != nil {
		close(instance.bootStop)
		instance.bootStop = nil
	}
	instance.mu.Unlock()

	instance.transition(controller.ShuttingDown)
	instance.transition(controller.Invalid)
}

func (instance *Instance) OperatingState() (state controller.OperatingState) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	state = instance.state
	return
}

func (instance *Instance) InputAreaSize() int  { return instance.options.InputSize }
func (instance *Instance) OutputAreaSize() int { return instance.options.OutputSize }

// Replaces the input area and runs the program once
func (instance *Instance) WriteInputs(area []byte) (err error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	if instance.closed {
		err = ErrClosed
		return
	}
	copy(instance.inputs, area)

	if instance.options.Logic != nil {
		instance.options.Logic(instance.inputs, instance.outputs)
	} else {
		copy(instance.outputs, instance.inputs)
	}
	return
}

func (instance *Instance) ReadOutputs() (area []byte, err error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	if instance.closed {
		err = ErrClosed
		return
	}
	area = append([]byte(nil), instance.outputs...)
	return
}

// Current input area, as last written
func (instance *Instance) Inputs() (area []byte) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	area = append([]byte(nil), instance.inputs...)
	return
}

func (instance *Instance) CompleteWrite(info record.Info, status uint32) (err error) {
	err = instance.complete(Completed{Write: true, Info: info, Status: status})
	return
}

func (instance *Instance) CompleteRead(info record.Info, payload []byte, status uint32) (err error) {
	err = instance.complete(Completed{Info: info, Payload: append([]byte(nil), payload...), Status: status})
	return
}

func (instance *Instance) complete(done Completed) (err error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	key := pendingKey{write: done.Write, recordIndex: done.Info.RecordIndex, hardwareID: done.Info.HardwareID}
	if _, ok := instance.pending[key]; !ok {
		err = fmt.Errorf("%w for record %d hardware id %d", ErrNotPending, done.Info.RecordIndex, done.Info.HardwareID)
		return
	}
	delete(instance.pending, key)
	instance.done = append(instance.done, done)
	return
}

// Operations resolved so far, oldest first
func (instance *Instance) Completed() (done []Completed) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	done = append([]Completed(nil), instance.done...)
	return
}

// Record operations raised and not yet completed
func (instance *Instance) Pending() (count int) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	count = len(instance.pending)
	return
}

func (instance *Instance) ScaleFactor() (factor float64) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	factor = instance.scale
	return
}

func (instance *Instance) SetScaleFactor(factor float64) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	instance.scale = factor
}

func (instance *Instance) SetHandlers(handlers controller.Handlers) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	instance.handlers = handlers
}

// Raises a record read request
func (instance *Instance) EmitRead(info record.Info) {
	instance.mu.Lock()
	instance.pending[pendingKey{recordIndex: info.RecordIndex, hardwareID: info.HardwareID}] = struct{}{}
	handler := instance.handlers.OnRecordRead
	instance.mu.Unlock()

	if handler != nil {
		handler(info)
	}
}

// Raises a record write request carrying payload
func (instance *Instance) EmitWrite(info record.Info, payload []byte) {
	instance.mu.Lock()
	instance.pending[pendingKey{write: true, recordIndex: info.RecordIndex, hardwareID: info.HardwareID}] = struct{}{}
	handler := instance.handlers.OnRecordWrite
	instance.mu.Unlock()

	if handler != nil {
		handler(info, append([]byte(nil), payload...))
	}
}

// Plays steps in order, repeating until ctx ends when loop is set
func (instance *Instance) RunScript(ctx context.Context, steps []Step, loop bool) {
	if len(steps) == 0 {
		return
	}
	for {
		for _, step := range steps {
			if step.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(step.Delay):
				}
			}
			if instance.OperatingState() != controller.Run {
				continue
			}
			if step.Write {
				instance.EmitWrite(step.Info, step.Payload)
			} else {
				instance.EmitRead(step.Info)
			}
		}
		if !loop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(global.DefaultCycleTime):
		}
	}
}

func (instance *Instance) Close() (err error) {
	instance.mu.Lock()
	if instance.closed {
		instance.mu.Unlock()
		return
	}
	instance.closed = true
	if instance.bootStop != nil {
		close(instance.bootStop)
		instance.bootStop = nil
	}
	instance.handlers = controller.Handlers{}
	instance.mu.Unlock()
	return
}
