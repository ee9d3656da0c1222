// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// Function codes, spec.md §3 and §4.3.
const (
	FuncCodeReadCoils                  = 0x01
	FuncCodeReadDiscreteInputs         = 0x02
	FuncCodeReadHoldingRegisters       = 0x03
	FuncCodeReadInputRegisters         = 0x04
	FuncCodeWriteSingleCoil            = 0x05
	FuncCodeWriteSingleRegister        = 0x06
	FuncCodeReadExceptionStatus        = 0x07
	FuncCodeDiagnostics                = 0x08
	FuncCodeGetCommEventCounter        = 0x0B
	FuncCodeGetCommEventLog            = 0x0C
	FuncCodeWriteMultipleCoils         = 0x0F
	FuncCodeWriteMultipleRegisters     = 0x10
	FuncCodeReportServerID             = 0x11
	FuncCodeReadFileRecord             = 0x14
	FuncCodeWriteFileRecord            = 0x15
	FuncCodeMaskWriteRegister          = 0x16
	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue              = 0x18
	FuncCodeEncapsulatedInterface      = 0x2B

	exceptionBit = 0x80
)

// Exception codes, spec.md §3.
type ExceptionCode byte

const (
	ExceptionCodeIllegalFunction        ExceptionCode = 0x01
	ExceptionCodeIllegalDataAddress     ExceptionCode = 0x02
	ExceptionCodeIllegalDataValue       ExceptionCode = 0x03
	ExceptionCodeSlaveDeviceFailure     ExceptionCode = 0x04
	ExceptionCodeAcknowledge            ExceptionCode = 0x05
	ExceptionCodeSlaveDeviceBusy        ExceptionCode = 0x06
	ExceptionCodeNegativeAcknowledge    ExceptionCode = 0x07
	ExceptionCodeMemoryParityError      ExceptionCode = 0x08
	ExceptionCodeGatewayPathUnavailable ExceptionCode = 0x0A
	ExceptionCodeGatewayTargetFailed    ExceptionCode = 0x0B
)

var exceptionNames = map[ExceptionCode]string{
	ExceptionCodeIllegalFunction:        "illegal function",
	ExceptionCodeIllegalDataAddress:     "illegal data address",
	ExceptionCodeIllegalDataValue:       "illegal data value",
	ExceptionCodeSlaveDeviceFailure:     "slave device failure",
	ExceptionCodeAcknowledge:            "acknowledge",
	ExceptionCodeSlaveDeviceBusy:        "slave device busy",
	ExceptionCodeNegativeAcknowledge:    "negative acknowledge",
	ExceptionCodeMemoryParityError:      "memory parity error",
	ExceptionCodeGatewayPathUnavailable: "gateway path unavailable",
	ExceptionCodeGatewayTargetFailed:    "gateway target device failed to respond",
}

// MEI (Modbus Encapsulated Interface) types, used by FC 0x2B.
const (
	MEITypeCANopenGeneralReference = 0x0D
	MEITypeDeviceIdentification    = 0x0E
)

// Device identification read-device-id access codes.
const (
	DeviceIDReadBasic    = 0x01
	DeviceIDReadRegular  = 0x02
	DeviceIDReadExtended = 0x03
	DeviceIDReadSpecific = 0x04
)

// Device identification object ids, spec.md §3.
const (
	DeviceIDVendorName         = 0x00
	DeviceIDProductCode        = 0x01
	DeviceIDMajorMinorRevision = 0x02
	DeviceIDVendorURL          = 0x03
	DeviceIDProductName        = 0x04
	DeviceIDModelName          = 0x05
	DeviceIDUserAppName        = 0x06
)

// ConformityLevel identifies how much of the device-identification object
// space a server supports (SPEC_FULL.md §5).
type ConformityLevel byte

const (
	ConformityLevelBasicStream        ConformityLevel = 0x01
	ConformityLevelRegularStream      ConformityLevel = 0x02
	ConformityLevelExtendedStream     ConformityLevel = 0x03
	ConformityLevelBasicIndividual    ConformityLevel = 0x81
	ConformityLevelRegularIndividual  ConformityLevel = 0x82
	ConformityLevelExtendedIndividual ConformityLevel = 0x83
)

func (c ConformityLevel) String() string {
	switch c {
	case ConformityLevelBasicStream:
		return "basic-stream"
	case ConformityLevelRegularStream:
		return "regular-stream"
	case ConformityLevelExtendedStream:
		return "extended-stream"
	case ConformityLevelBasicIndividual:
		return "basic-individual"
	case ConformityLevelRegularIndividual:
		return "regular-individual"
	case ConformityLevelExtendedIndividual:
		return "extended-individual"
	default:
		return "unknown"
	}
}

// Diagnostics (FC 0x08) sub-function codes, SPEC_FULL.md §5.
const (
	DiagSubReturnQueryData           = 0x0000
	DiagSubRestartCommOption         = 0x0001
	DiagSubReturnDiagRegister        = 0x0002
	DiagSubChangeASCIIDelimiter      = 0x0003
	DiagSubForceListenOnlyMode       = 0x0004
	DiagSubClearCounters             = 0x000A
	DiagSubReturnBusMessageCount     = 0x000B
	DiagSubReturnBusCommErrorCount   = 0x000C
	DiagSubReturnBusExceptionCount   = 0x000D
	DiagSubReturnServerMessageCount  = 0x000E
	DiagSubReturnServerNoRespCount   = 0x000F
	DiagSubReturnServerNAKCount      = 0x0010
	DiagSubReturnServerBusyCount     = 0x0011
	DiagSubReturnBusCharOverrunCount = 0x0012
	DiagSubClearOverrunCounter       = 0x0014
)

// File record reference type, spec.md §3 ("reference-type byte equals
// 0x06").
const fileRecordReferenceType = 0x06

// Protocol limits, spec.md §3/§4.
const (
	maxPDUSize     = 253
	maxTCPADUSize  = 260
	minRTUADUSize  = 4
	maxRTUADUSize  = 256
	minASCIIFrame  = 9
	maxASCIIFrame  = 513
	mbapHeaderSize = 7

	maxReadCoils          = 2000
	maxReadDiscreteInputs = 2000
	maxReadRegisters      = 125
	maxWriteMultipleCoils = 1968
	maxWriteMultipleRegs  = 123
	maxReadWriteReadRegs  = 125
	maxReadWriteWriteRegs = 121
	maxFIFOCount          = 31
	maxCommEvents         = 64
)
