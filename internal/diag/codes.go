package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// I/O
	IOInfo          Code = 1000
	IOLoadFileError Code = 1001
	IOWriteError    Code = 1002
	IOCacheError    Code = 1003

	// IR text
	PrsInfo             Code = 2000
	PrsUnexpectedToken  Code = 2001
	PrsUnknownChar      Code = 2002
	PrsUnterminated     Code = 2003
	PrsBadNumber        Code = 2004
	PrsUnknownType      Code = 2005
	PrsUnknownOpcode    Code = 2006
	PrsUndefinedValue   Code = 2007
	PrsUndefinedBlock   Code = 2008
	PrsRedefinition     Code = 2009
	PrsTypeMismatch     Code = 2010
	PrsUnknownFunction  Code = 2011
	PrsUndefinedMD      Code = 2012
	PrsVerifyFailed     Code = 2013
	PrsUnsupportedConst Code = 2014

	// change records
	CfgInfo            Code = 3000
	CfgSyntax          Code = 3001
	CfgSchema          Code = 3002
	CfgUnknownToken    Code = 3003
	CfgUnboundTarget   Code = 3004
	CfgNotStruct       Code = 3005
	CfgFieldOutOfRange Code = 3006
	CfgBadSwitch       Code = 3007
	CfgManifest        Code = 3008

	// rewrite engine
	RwrInfo          Code = 4000
	RwrUnhandledKind Code = 4001
	RwrApplyFailed   Code = 4002
	RwrNoop          Code = 4003
	RwrDebugInfo     Code = 4004
	RwrLowered       Code = 4005
	RwrEscape        Code = 4006

	// pointee resolution
	ResInfo     Code = 5000
	ResConflict Code = 5001
	ResFallback Code = 5002

	ObsInfo    Code = 6000
	ObsTimings Code = 6001
)

var (
	codeDescription = map[Code]string{
		UnknownCode:         "Unknown error",
		IOInfo:              "I/O information",
		IOLoadFileError:     "I/O load file error",
		IOWriteError:        "I/O write error",
		IOCacheError:        "Result cache error",
		PrsInfo:             "IR parser information",
		PrsUnexpectedToken:  "Unexpected token",
		PrsUnknownChar:      "Unknown character",
		PrsUnterminated:     "Unterminated literal",
		PrsBadNumber:        "Malformed number",
		PrsUnknownType:      "Unknown type",
		PrsUnknownOpcode:    "Unknown instruction",
		PrsUndefinedValue:   "Use of undefined value",
		PrsUndefinedBlock:   "Use of undefined label",
		PrsRedefinition:     "Value redefined",
		PrsTypeMismatch:     "Operand type mismatch",
		PrsUnknownFunction:  "Call to unknown function",
		PrsUndefinedMD:      "Reference to undefined metadata",
		PrsVerifyFailed:     "Module verification failed",
		PrsUnsupportedConst: "Unsupported constant expression",
		CfgInfo:             "Configuration information",
		CfgSyntax:           "Malformed change-record file",
		CfgSchema:           "Change record violates schema",
		CfgUnknownToken:     "Unknown type token",
		CfgUnboundTarget:    "Change record target not found",
		CfgNotStruct:        "Field change on a non-struct value",
		CfgFieldOutOfRange:  "Struct field index out of range",
		CfgBadSwitch:        "Invalid call switch",
		CfgManifest:         "Invalid mxprec.toml",
		RwrInfo:             "Rewrite information",
		RwrUnhandledKind:    "Unhandled consumer instruction",
		RwrApplyFailed:      "Change request failed",
		RwrNoop:             "Change request is a no-op",
		RwrDebugInfo:        "Debug descriptor not updated",
		RwrLowered:          "Precision lowering applied",
		RwrEscape:           "Retyped storage escapes into a call",
		ResInfo:             "Resolver information",
		ResConflict:         "Inconsistent pointee depth",
		ResFallback:         "Pointee type fell back to static type",
		ObsInfo:             "Observability information",
		ObsTimings:          "Pipeline timings",
	}
)

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("PRS%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("CFG%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("RWR%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("RES%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
