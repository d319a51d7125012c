// cectrace is an offline analyzer for cec-client trace logs and
// cecaudiod capture journals. Feed it a raw trace on stdin (or a file
// argument) to see which frames parse and how they classify, or point
// it at a CBOR journal to replay what the watcher recorded.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/avwatch/cecaudio/internal/capture"
	"github.com/avwatch/cecaudio/internal/cec"
	"github.com/avwatch/cecaudio/internal/config"
)

func main() {
	journalPath := flag.String("journal", "", "read a CBOR capture journal instead of a raw trace")
	eventsOnly := flag.Bool("events-only", false, "hide frames that classify as irrelevant")
	amplifier := flag.Uint("amplifier", uint(config.Default().AmplifierAddress), "amplifier logical address (0-14)")
	flag.Parse()

	if *amplifier > 0xE {
		log.Fatalf("amplifier address %d out of range", *amplifier)
	}

	if *journalPath != "" {
		if err := dumpJournal(*journalPath); err != nil {
			log.Fatal(err)
		}
		return
	}

	in := os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		in = f
	}

	if err := analyzeTrace(in, cec.Classifier{AmplifierAddress: uint8(*amplifier)}, *eventsOnly); err != nil {
		log.Fatal(err)
	}
}

// analyzeTrace runs every trace line through parse and classify and
// prints a per-line verdict plus a summary.
func analyzeTrace(in *os.File, classifier cec.Classifier, eventsOnly bool) error {
	var (
		lines        int
		frames       int
		audioEvents  int
		activeEvents int
	)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		lines++

		frame, ok := cec.Parse(line)
		if !ok {
			continue
		}
		frames++

		ev := classifier.Classify(frame)
		switch ev.Type {
		case cec.EventSystemAudioModeOn:
			audioEvents++
			fmt.Printf("%-20s %x -> %x op=%02x  audio mode on\n",
				ev.Type, frame.Source, frame.Dest, frame.Opcode)
		case cec.EventActiveSource:
			activeEvents++
			fmt.Printf("%-20s %x -> %x op=%02x  phys=%s\n",
				ev.Type, frame.Source, frame.Dest, frame.Opcode, ev.PhysicalAddress)
		default:
			if !eventsOnly {
				fmt.Printf("%-20s %x -> %x op=%02x  payload=%x\n",
					ev.Type, frame.Source, frame.Dest, frame.Opcode, frame.Payload)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Println("---------------------------------------------------")
	fmt.Printf("lines read:            %d\n", lines)
	fmt.Printf("frames parsed:         %d\n", frames)
	fmt.Printf("system audio mode on:  %d\n", audioEvents)
	fmt.Printf("active source:         %d\n", activeEvents)
	return nil
}

// dumpJournal prints every record of a capture journal and totals the
// decisions.
func dumpJournal(path string) error {
	records, err := capture.ReadAll(path)
	if err != nil {
		return err
	}

	decisions := make(map[string]int)
	for _, rec := range records {
		fmt.Printf("#%-6d %s", rec.Seq, rec.Timestamp.Format("15:04:05.000"))
		if rec.Source != nil && rec.Dest != nil && rec.Opcode != nil {
			fmt.Printf("  %x -> %x op=%02x", *rec.Source, *rec.Dest, *rec.Opcode)
		}
		if rec.Event != "" {
			fmt.Printf("  event=%s", rec.Event)
		}
		if rec.PhysicalAddress != "" {
			fmt.Printf("  phys=%s", rec.PhysicalAddress)
		}
		if rec.Decision != "" {
			fmt.Printf("  decision=%s", rec.Decision)
			decisions[rec.Decision]++
		}
		if rec.Command != "" {
			fmt.Printf("  command=%q", rec.Command)
		}
		fmt.Println()
	}

	fmt.Println("---------------------------------------------------")
	fmt.Printf("records: %d\n", len(records))
	for kind, n := range decisions {
		fmt.Printf("  %-14s %d\n", kind, n)
	}
	return nil
}
