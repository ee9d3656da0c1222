// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// connector is implemented by transporters that need an explicit dial step
// (tcpTransporter, serialPort) so Client.Connect can eagerly establish the
// connection instead of waiting for the first request (spec.md §4.8).
type connector interface {
	Connect(ctx context.Context) error
}

// closer is implemented by every transporter this package ships.
type closer interface {
	Close() error
}

// reconnectConfigurable is implemented by transporters whose implicit
// mid-request reconnect (as opposed to the explicit Connect call) must
// honor the configured ReconnectionStrategy (spec.md §4.8).
type reconnectConfigurable interface {
	SetReconnectMode(mode ReconnectionMode)
}

// client is the request/response façade of spec.md §4.8: it builds and
// parses PDUs via pdu.go, validates caller parameters before a PDU is ever
// built, and retries transport/timing/correlation failures per its retry
// policy.
type client struct {
	packager    Packager
	transporter Transporter

	retries int
	backoff ReconnectionStrategy
	logger  Logger
	metrics Metrics
}

// NewClient creates a new modbus client with given backend handler, no
// retries and nop logging/metrics — the teacher's zero-config default.
func NewClient(handler ClientHandler) Client {
	return &client{packager: handler, transporter: handler, logger: nopLogger{}, metrics: nopMetrics{}}
}

// NewClientWithPackagerTransporter creates a new modbus client with separate
// packager and transporter. This is useful for advanced use cases where you
// want to use different implementations for the packager and transporter,
// such as in testing scenarios.
func NewClientWithPackagerTransporter(packager Packager, transporter Transporter) Client {
	return &client{packager: packager, transporter: transporter, logger: nopLogger{}, metrics: nopMetrics{}}
}

// NewClientWithConfig creates a client with the retry, reconnection, and
// observability options of spec.md §6, after validating cfg.
func NewClientWithConfig(handler ClientHandler, cfg ClientConfig, logger Logger, metrics Metrics) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rc, ok := handler.(reconnectConfigurable); ok {
		rc.SetReconnectMode(cfg.Reconnection.Mode)
	}
	return &client{
		packager:    handler,
		transporter: handler,
		retries:     cfg.Retries,
		backoff:     cfg.Reconnection,
		logger:      nopLoggerIfNil(logger),
		metrics:     nopMetricsIfNil(metrics),
	}, nil
}

// Connect eagerly establishes the underlying connection, if the transporter
// supports one (spec.md §4.8).
func (mb *client) Connect(ctx context.Context) error {
	if c, ok := mb.transporter.(connector); ok {
		return c.Connect(ctx)
	}
	return nil
}

// Close releases the underlying connection.
func (mb *client) Close() error {
	if c, ok := mb.transporter.(closer); ok {
		return c.Close()
	}
	return nil
}

func (mb *client) ReadCoils(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > maxReadCoils {
		return nil, validationError("quantity '%v' must be between '%v' and '%v'", quantity, 1, maxReadCoils)
	}
	pdu, err := mb.send(ctx, unitID, buildReadBitsRequest(FuncCodeReadCoils, address, quantity))
	if err != nil {
		return nil, err
	}
	return parseReadBitsResponse(pdu, FuncCodeReadCoils, quantity)
}

func (mb *client) ReadDiscreteInputs(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > maxReadDiscreteInputs {
		return nil, validationError("quantity '%v' must be between '%v' and '%v'", quantity, 1, maxReadDiscreteInputs)
	}
	pdu, err := mb.send(ctx, unitID, buildReadBitsRequest(FuncCodeReadDiscreteInputs, address, quantity))
	if err != nil {
		return nil, err
	}
	return parseReadBitsResponse(pdu, FuncCodeReadDiscreteInputs, quantity)
}

func (mb *client) ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > maxReadRegisters {
		return nil, validationError("quantity '%v' must be between '%v' and '%v'", quantity, 1, maxReadRegisters)
	}
	pdu, err := mb.send(ctx, unitID, buildReadRegistersRequest(FuncCodeReadHoldingRegisters, address, quantity))
	if err != nil {
		return nil, err
	}
	return parseReadRegistersResponse(pdu, FuncCodeReadHoldingRegisters, quantity)
}

func (mb *client) ReadInputRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > maxReadRegisters {
		return nil, validationError("quantity '%v' must be between '%v' and '%v'", quantity, 1, maxReadRegisters)
	}
	pdu, err := mb.send(ctx, unitID, buildReadRegistersRequest(FuncCodeReadInputRegisters, address, quantity))
	if err != nil {
		return nil, err
	}
	return parseReadRegistersResponse(pdu, FuncCodeReadInputRegisters, quantity)
}

func (mb *client) WriteSingleCoil(ctx context.Context, unitID byte, address, value uint16) ([]byte, error) {
	if value != 0xFF00 && value != 0x0000 {
		return nil, validationError("coil state '%#04x' must be either 0xFF00 (ON) or 0x0000 (OFF)", value)
	}
	pdu, err := mb.send(ctx, unitID, buildWriteSingleRequest(FuncCodeWriteSingleCoil, address, value))
	if err != nil {
		return nil, err
	}
	return parseWriteSingleResponse(pdu, FuncCodeWriteSingleCoil, address, value)
}

func (mb *client) WriteSingleRegister(ctx context.Context, unitID byte, address, value uint16) ([]byte, error) {
	pdu, err := mb.send(ctx, unitID, buildWriteSingleRequest(FuncCodeWriteSingleRegister, address, value))
	if err != nil {
		return nil, err
	}
	return parseWriteSingleResponse(pdu, FuncCodeWriteSingleRegister, address, value)
}

func (mb *client) WriteMultipleCoils(ctx context.Context, unitID byte, address, quantity uint16, value []byte) ([]byte, error) {
	if quantity < 1 || quantity > maxWriteMultipleCoils {
		return nil, validationError("quantity '%v' must be between '%v' and '%v'", quantity, 1, maxWriteMultipleCoils)
	}
	pdu, err := mb.send(ctx, unitID, buildWriteMultipleCoilsRequest(address, quantity, value))
	if err != nil {
		return nil, err
	}
	return parseWriteMultipleResponse(pdu, FuncCodeWriteMultipleCoils, address, quantity)
}

func (mb *client) WriteMultipleRegisters(ctx context.Context, unitID byte, address, quantity uint16, value []byte) ([]byte, error) {
	if quantity < 1 || quantity > maxWriteMultipleRegs {
		return nil, validationError("quantity '%v' must be between '%v' and '%v'", quantity, 1, maxWriteMultipleRegs)
	}
	pdu, err := mb.send(ctx, unitID, buildWriteMultipleRegistersRequest(address, quantity, value))
	if err != nil {
		return nil, err
	}
	return parseWriteMultipleResponse(pdu, FuncCodeWriteMultipleRegisters, address, quantity)
}

func (mb *client) MaskWriteRegister(ctx context.Context, unitID byte, address, andMask, orMask uint16) ([]byte, error) {
	pdu, err := mb.send(ctx, unitID, buildMaskWriteRegisterRequest(address, andMask, orMask))
	if err != nil {
		return nil, err
	}
	return parseMaskWriteRegisterResponse(pdu, address, andMask, orMask)
}

func (mb *client) ReadWriteMultipleRegisters(ctx context.Context, unitID byte, readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) ([]byte, error) {
	if readQuantity < 1 || readQuantity > maxReadWriteReadRegs {
		return nil, validationError("read quantity '%v' must be between '%v' and '%v'", readQuantity, 1, maxReadWriteReadRegs)
	}
	if writeQuantity < 1 || writeQuantity > maxReadWriteWriteRegs {
		return nil, validationError("write quantity '%v' must be between '%v' and '%v'", writeQuantity, 1, maxReadWriteWriteRegs)
	}
	pdu, err := mb.send(ctx, unitID, buildReadWriteMultipleRegistersRequest(readAddress, readQuantity, writeAddress, writeQuantity, value))
	if err != nil {
		return nil, err
	}
	return parseReadWriteMultipleRegistersResponse(pdu, readQuantity)
}

func (mb *client) ReadFIFOQueue(ctx context.Context, unitID byte, address uint16) ([]byte, error) {
	pdu, err := mb.send(ctx, unitID, buildReadFIFOQueueRequest(address))
	if err != nil {
		return nil, err
	}
	return parseReadFIFOQueueResponse(pdu)
}

func (mb *client) ReadExceptionStatus(ctx context.Context, unitID byte) (byte, error) {
	pdu, err := mb.send(ctx, unitID, buildReadExceptionStatusRequest())
	if err != nil {
		return 0, err
	}
	return parseReadExceptionStatusResponse(pdu)
}

func (mb *client) Diagnostic(ctx context.Context, unitID byte, subFunction, data uint16) (uint16, error) {
	pdu, err := mb.send(ctx, unitID, buildDiagnosticRequest(subFunction, data))
	if err != nil {
		return 0, err
	}
	return parseDiagnosticResponse(pdu, subFunction)
}

func (mb *client) GetCommEventCounter(ctx context.Context, unitID byte) (status, count uint16, err error) {
	pdu, err := mb.send(ctx, unitID, buildGetCommEventCounterRequest())
	if err != nil {
		return 0, 0, err
	}
	return parseGetCommEventCounterResponse(pdu)
}

func (mb *client) GetCommEventLog(ctx context.Context, unitID byte) (*CommEventLog, error) {
	pdu, err := mb.send(ctx, unitID, buildGetCommEventLogRequest())
	if err != nil {
		return nil, err
	}
	return parseGetCommEventLogResponse(pdu)
}

func (mb *client) ReportServerID(ctx context.Context, unitID byte) (serverID []byte, running bool, err error) {
	pdu, err := mb.send(ctx, unitID, buildReportServerIDRequest())
	if err != nil {
		return nil, false, err
	}
	return parseReportServerIDResponse(pdu)
}

func (mb *client) ReadFileRecord(ctx context.Context, unitID byte, requests []FileRecordRequest) ([]FileRecordData, error) {
	request, err := buildReadFileRecordRequest(requests)
	if err != nil {
		return nil, err
	}
	pdu, err := mb.send(ctx, unitID, request)
	if err != nil {
		return nil, err
	}
	return parseReadFileRecordResponse(pdu)
}

func (mb *client) WriteFileRecord(ctx context.Context, unitID byte, records []FileRecordData) error {
	request, err := buildWriteFileRecordRequest(records)
	if err != nil {
		return err
	}
	pdu, err := mb.send(ctx, unitID, request)
	if err != nil {
		return err
	}
	_, err = parseWriteFileRecordResponse(pdu)
	return err
}

func (mb *client) ReadDeviceIdentification(ctx context.Context, unitID byte, readCode byte, objectID byte) (*DeviceIdentification, error) {
	pdu, err := mb.send(ctx, unitID, buildReadDeviceIdentificationRequest(readCode, objectID))
	if err != nil {
		return nil, err
	}
	return parseReadDeviceIdentificationResponse(pdu)
}

// send encodes, transmits and decodes one request, retrying transport,
// timing and correlation failures up to mb.retries times (spec.md §4.8,
// §7's retry policy). Device exceptions and validation errors are never
// retried.
func (mb *client) send(ctx context.Context, unitID byte, request *ProtocolDataUnit) (*ProtocolDataUnit, error) {
	var lastErr error
	attempts := mb.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			mb.metrics.IncRetries()
			mb.logger.Warnf("modbus: retrying request (attempt %d/%d) after: %v", attempt+1, attempts, lastErr)
			if err := mb.waitBeforeRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}
		start := time.Now()
		response, err := mb.sendOnce(ctx, unitID, request)
		mb.metrics.ObserveRequestDuration(request.FunctionCode, time.Since(start).Seconds())
		if err == nil {
			mb.metrics.IncRequests(request.FunctionCode, "ok")
			return response, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			mb.metrics.IncRequests(request.FunctionCode, "error")
			return nil, err
		}
		mb.metrics.IncRequests(request.FunctionCode, "retry")
	}
	return nil, lastErr
}

func (mb *client) sendOnce(ctx context.Context, unitID byte, request *ProtocolDataUnit) (*ProtocolDataUnit, error) {
	aduRequest, err := mb.packager.Encode(unitID, request)
	if err != nil {
		return nil, fmt.Errorf("encoding PDU: %w", err)
	}
	aduResponse, err := mb.transporter.Send(ctx, aduRequest)
	if err != nil {
		return nil, err
	}
	if err = mb.packager.Verify(aduRequest, aduResponse); err != nil {
		return nil, err
	}
	response, err := mb.packager.Decode(aduResponse)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(response.Data) == 0 && response.FunctionCode == request.FunctionCode {
		return nil, newError(KindFrameStructure, "response data is empty", ErrInvalidResponse)
	}
	return response, nil
}

// waitBeforeRetry applies the configured ReconnectionStrategy between
// attempts: no wait when reconnection is disabled or immediate, and an
// exponential backoff via cenkalti/backoff otherwise.
func (mb *client) waitBeforeRetry(ctx context.Context, attempt int) error {
	var delay time.Duration
	switch mb.backoff.Mode {
	case ReconnectionExponentialBackoff:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = mb.backoff.InitialDelay
		b.MaxInterval = mb.backoff.MaxDelay
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		for i := 0; i < attempt; i++ {
			delay = b.NextBackOff()
		}
	case ReconnectionImmediate:
		delay = 0
	default:
		delay = 0
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
