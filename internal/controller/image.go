package controller

import (
	"fmt"
)

func newProcessImage(inputAddress, outputAddress []int) (image *ProcessImage) {
	image = &ProcessImage{
		input:         make([]byte, len(inputAddress)),
		output:        make([]byte, len(outputAddress)),
		inputAddress:  append([]int(nil), inputAddress...),
		outputAddress: append([]int(nil), outputAddress...),
	}
	return
}

// Replaces host inputs starting at offset. Bytes past the image are ignored.
func (image *ProcessImage) SetInputs(offset int, data []byte) (written int) {
	image.mu.Lock()
	defer image.mu.Unlock()

	if offset < 0 || offset >= len(image.input) {
		return
	}
	written = copy(image.input[offset:], data)
	return
}

// Copy of the host inputs
func (image *ProcessImage) Inputs() (data []byte) {
	image.mu.Lock()
	defer image.mu.Unlock()
	data = append([]byte(nil), image.input...)
	return
}

// Copy of the host outputs as of the last cycle
func (image *ProcessImage) Outputs() (data []byte) {
	image.mu.Lock()
	defer image.mu.Unlock()
	data = append([]byte(nil), image.output...)
	return
}

func (image *ProcessImage) zeroOutputs() {
	image.mu.Lock()
	defer image.mu.Unlock()
	clear(image.output)
}

// Every mapped address must fall inside the instance areas
func (image *ProcessImage) validate(inputAreaSize, outputAreaSize int) (err error) {
	for i, address := range image.inputAddress {
		if address < 0 || address >= inputAreaSize {
			err = fmt.Errorf("input %d maps to byte %d outside input area of %d bytes", i, address, inputAreaSize)
			return
		}
	}
	for i, address := range image.outputAddress {
		if address < 0 || address >= outputAreaSize {
			err = fmt.Errorf("output %d maps to byte %d outside output area of %d bytes", i, address, outputAreaSize)
			return
		}
	}
	return
}

// Scatters host inputs into the instance input area
func (image *ProcessImage) scatterInputs(area []byte) {
	image.mu.Lock()
	defer image.mu.Unlock()
	for i, address := range image.inputAddress {
		area[address] = image.input[i]
	}
}

// Gathers mapped instance output bytes into host outputs
func (image *ProcessImage) gatherOutputs(area []byte) (err error) {
	image.mu.Lock()
	defer image.mu.Unlock()
	for i, address := range image.outputAddress {
		if address >= len(area) {
			err = fmt.Errorf("instance returned %d output bytes, output %d needs byte %d", len(area), i, address)
			return
		}
		image.output[i] = area[address]
	}
	return
}
