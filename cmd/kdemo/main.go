// SPDX-License-Identifier: Unlicense OR MIT

// Command kdemo boots the kernel core on the hosted processor. Bytes
// read from standard input are delivered as keyboard interrupts and
// echoed by a task running on the executor.
package main

import (
	"bufio"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"eliasnaur.com/kcore/kernel"
	"eliasnaur.com/kcore/task"
)

var (
	prompt = flag.String("echo-prompt", "> ", "prompt printed before each echoed line")
	tick   = flag.Duration("tick", 10*time.Millisecond, "timer interrupt interval")
)

// endOfInput is delivered as the last scancode when standard input
// is exhausted.
const endOfInput = 0x04

// keyboardPort is the port the keyboard handler reads scancodes from.
const keyboardPort = 0x60

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cpu := kernel.NewHostedCPU()
	kernel.Init(cpu)

	done := make(chan struct{})
	in := kernel.ScancodeStream()
	ec := newEcho(in, bufio.NewWriter(os.Stdout), *prompt, done)
	e := task.NewExecutor(cpu)
	e.Spawn(task.New(ec))
	go e.Run()

	if *tick > 0 {
		t := time.NewTicker(*tick)
		defer t.Stop()
		go func() {
			for range t.C {
				cpu.Interrupt(kernel.InterruptTimer)
			}
		}()
	}

	errs := make(chan error, 1)
	go func() {
		errs <- feed(cpu, in, os.Stdin)
	}()
	select {
	case <-done:
	case err := <-errs:
		if err != nil {
			return err
		}
		<-done
	}
	if ec.err != nil {
		return ec.err
	}
	log.Printf("kdemo: %d timer ticks", kernel.Ticks())
	return nil
}

// feed raises a keyboard interrupt for every byte of r. When the
// scancode stream s is full it waits for the executor to drain it and
// go idle before raising the next one.
func feed(cpu *kernel.HostedCPU, s *task.ByteStream, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			b = endOfInput
		} else if err != nil {
			return err
		}
		// Read the halt count first; a drain that completes after the
		// check still counts.
		h := cpu.Halts()
		if s.Len() >= s.Cap() {
			cpu.WaitHalted(h + 1)
		}
		cpu.SetPort(keyboardPort, b)
		cpu.Interrupt(kernel.InterruptKeyboard)
		if b == endOfInput {
			return nil
		}
	}
}

// echo copies scancodes to its output line by line until it reads
// endOfInput or fails to write. Either way it closes done; err holds
// the write error.
type echo struct {
	in     *task.ByteStream
	out    *bufio.Writer
	prompt string
	done   chan struct{}

	bol bool
	err error
}

func newEcho(in *task.ByteStream, out *bufio.Writer, prompt string, done chan struct{}) *echo {
	return &echo{in: in, out: out, prompt: prompt, done: done, bol: true}
}

func (e *echo) Poll(cx *task.Context) task.Poll {
	for {
		b, p := e.in.PollNext(cx)
		if p == task.Pending {
			if err := e.out.Flush(); err != nil {
				return e.finish(err)
			}
			return task.Pending
		}
		if b == endOfInput {
			return e.finish(e.out.Flush())
		}
		if e.bol {
			e.out.WriteString(e.prompt)
			e.bol = false
		}
		e.out.WriteByte(b)
		if b == '\n' {
			e.bol = true
		}
	}
}

func (e *echo) finish(err error) task.Poll {
	e.err = err
	close(e.done)
	return task.Ready
}
