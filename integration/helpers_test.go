// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package integration

import (
	"context"
	"testing"

	"github.com/lumberbarons/modbus"
)

// ClientTestAll drives a representative slice of the Client surface against
// a live simulator, as a smoke test shared by the per-transport test files.
func ClientTestAll(t *testing.T, client modbus.Client) {
	t.Helper()
	ctx := context.Background()

	if _, err := client.ReadCoils(ctx, 1, 0, 8); err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if _, err := client.ReadDiscreteInputs(ctx, 1, 0, 8); err != nil {
		t.Fatalf("ReadDiscreteInputs: %v", err)
	}
	if _, err := client.ReadHoldingRegisters(ctx, 1, 0, 4); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if _, err := client.ReadInputRegisters(ctx, 1, 0, 4); err != nil {
		t.Fatalf("ReadInputRegisters: %v", err)
	}
	if _, err := client.WriteSingleCoil(ctx, 1, 0, 0xFF00); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	if _, err := client.WriteSingleRegister(ctx, 1, 0, 1234); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	if _, err := client.WriteMultipleCoils(ctx, 1, 0, 8, []byte{0xFF}); err != nil {
		t.Fatalf("WriteMultipleCoils: %v", err)
	}
	if _, err := client.WriteMultipleRegisters(ctx, 1, 0, 2, []byte{0, 1, 0, 2}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	if _, err := client.MaskWriteRegister(ctx, 1, 0, 0x00F2, 0x0025); err != nil {
		t.Fatalf("MaskWriteRegister: %v", err)
	}
	if _, err := client.ReadWriteMultipleRegisters(ctx, 1, 0, 2, 0, 2, []byte{0, 5, 0, 6}); err != nil {
		t.Fatalf("ReadWriteMultipleRegisters: %v", err)
	}
}
