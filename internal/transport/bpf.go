package transport

import (
	"golang.org/x/net/bpf"

	"firestige.xyz/canstandin/internal/diag"
)

const (
	frameLenOffset  = 4
	frameDataOffset = 8
	bpfAccept       = 0xFFFF
)

// DiagnosticFilter returns a socket filter program that accepts frames whose
// declared length covers a diagnostic payload and whose first two data
// bytes are the diagnostic magic. Everything else is dropped in the kernel.
func DiagnosticFilter() []bpf.Instruction {
	return []bpf.Instruction{
		// A = declared length
		bpf.LoadAbsolute{Off: frameLenOffset, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpLessThan, Val: diag.PayloadSize, SkipTrue: 3},
		// A = data[0:2], big-endian
		bpf.LoadAbsolute{Off: frameDataOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(diag.Magic), SkipTrue: 1},
		bpf.RetConstant{Val: bpfAccept},
		bpf.RetConstant{Val: 0},
	}
}

// AssembleDiagnosticFilter assembles DiagnosticFilter into raw instructions.
func AssembleDiagnosticFilter() ([]bpf.RawInstruction, error) {
	return bpf.Assemble(DiagnosticFilter())
}
