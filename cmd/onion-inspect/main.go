// Command onion-inspect is a thin, read-only/administrative companion to
// the onion package: list revisions, read a byte range at a given
// revision, export a revision as a compressed snapshot, and re-verify
// every on-disk checksum. It never opens for write — a second writer is
// out of scope (spec.md §5 non-goal: concurrent multi-writer access).
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"
	"github.com/tailscale/hujson"
	flag "github.com/spf13/pflag"

	"github.com/jpl-au/onion"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut *os.File) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "log":
		return cmdLog(out, errOut, rest)
	case "cat":
		return cmdCat(out, errOut, rest)
	case "export":
		return cmdExport(out, errOut, rest)
	case "verify":
		return cmdVerify(out, errOut, rest)
	case "-h", "--help", "help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "onion-inspect: unknown command %q\n", cmd)
		printUsage(errOut)
		return 2
	}
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "usage: onion-inspect <log|cat|export|verify> --dir DIR --name NAME [flags]")
}

// commonFlags are shared by every subcommand: the directory the canonical
// file and its onion sidecar live in, and the canonical file's name.
type commonFlags struct {
	dir        string
	name       string
	revisionID uint64
	latest     bool
	jsonOut    bool
}

func bindCommon(fs *flag.FlagSet, c *commonFlags) {
	fs.StringVar(&c.dir, "dir", ".", "directory containing the canonical file and its .onion sidecar")
	fs.StringVar(&c.name, "name", "", "canonical file name")
	fs.Uint64Var(&c.revisionID, "revision", 0, "revision id to open")
	fs.BoolVar(&c.latest, "latest", true, "open the most recently committed revision")
	fs.BoolVar(&c.jsonOut, "json", false, "emit JSON output")
}

func openReadOnly(c commonFlags) (*onion.DB, error) {
	cfg := loadInspectConfig(c.dir)
	cfg.RevisionID = c.revisionID
	if c.latest {
		cfg.RevisionID = onion.RevisionLatest
	}
	return onion.Open(c.dir, c.name, cfg)
}

func cmdLog(out, errOut *os.File, args []string) int {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	var c commonFlags
	bindCommon(fs, &c)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, err := openReadOnly(c)
	if err != nil {
		fmt.Fprintln(errOut, "onion-inspect log:", err)
		return 1
	}
	defer db.Close()

	revs, err := db.Revisions()
	if err != nil {
		fmt.Fprintln(errOut, "onion-inspect log:", err)
		return 1
	}

	if c.jsonOut {
		enc := gojson.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(revs); err != nil {
			fmt.Fprintln(errOut, "onion-inspect log:", err)
			return 1
		}
		return 0
	}

	for _, r := range revs {
		fmt.Fprintf(out, "%d\tparent=%d\t%s\tlogi_eof=%d\tuser=%d(%s)\t%s\n",
			r.RevisionID, r.ParentRevisionID, r.TimeOfCreation, r.LogiEOF, r.UserID, r.Username, r.Comment)
	}
	return 0
}

func cmdCat(out, errOut *os.File, args []string) int {
	fs := flag.NewFlagSet("cat", flag.ContinueOnError)
	var c commonFlags
	bindCommon(fs, &c)
	offset := fs.Uint64("offset", 0, "logical byte offset to start reading at")
	length := fs.Uint64("length", 0, "number of bytes to read")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, err := openReadOnly(c)
	if err != nil {
		fmt.Fprintln(errOut, "onion-inspect cat:", err)
		return 1
	}
	defer db.Close()

	buf := make([]byte, *length)
	if err := db.Read(*offset, buf); err != nil {
		fmt.Fprintln(errOut, "onion-inspect cat:", err)
		return 1
	}
	out.Write(buf)
	return 0
}

func cmdExport(out, errOut *os.File, args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var c commonFlags
	bindCommon(fs, &c)
	outPath := fs.String("out", "", "output file (defaults to stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, err := openReadOnly(c)
	if err != nil {
		fmt.Fprintln(errOut, "onion-inspect export:", err)
		return 1
	}
	defer db.Close()

	var w io.Writer = out
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(errOut, "onion-inspect export:", err)
			return 1
		}
		defer f.Close()
		w = f
	}

	if err := db.Export(w); err != nil {
		fmt.Fprintln(errOut, "onion-inspect export:", err)
		return 1
	}
	return 0
}

// verifyReport is the JSON shape emitted by `verify --json`.
type verifyReport struct {
	RevisionsChecked int      `json:"revisions_checked"`
	Failures         []string `json:"failures"`
}

func cmdVerify(out, errOut *os.File, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	var c commonFlags
	bindCommon(fs, &c)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, err := openReadOnly(c)
	if err != nil {
		fmt.Fprintln(errOut, "onion-inspect verify:", err)
		return 1
	}
	defer db.Close()

	report, err := db.Verify()
	if err != nil {
		fmt.Fprintln(errOut, "onion-inspect verify:", err)
		return 1
	}

	vr := verifyReport{RevisionsChecked: report.RevisionsChecked}
	for _, f := range report.Failures {
		vr.Failures = append(vr.Failures, f.Error())
	}

	if c.jsonOut {
		enc := gojson.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.Encode(vr)
	} else {
		fmt.Fprintf(out, "checked %d revisions\n", vr.RevisionsChecked)
		for _, f := range vr.Failures {
			fmt.Fprintln(out, "FAIL:", f)
		}
	}

	if len(vr.Failures) > 0 {
		return 1
	}
	return 0
}

// inspectFileConfig is the optional HuJSON config file
// (dir/.onion-inspect.json): commented JSON, defaults→file→flags
// precedence mirrors calvinalkan-agent-task's LoadConfig.
type inspectFileConfig struct {
	IntegrityAlg    string `json:"integrity_alg,omitempty"`
	VerifyIntegrity bool   `json:"verify_integrity,omitempty"`
}

func loadInspectConfig(dir string) onion.Config {
	cfg := onion.Config{}

	path := filepath.Join(dir, ".onion-inspect.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return cfg
	}

	var fc inspectFileConfig
	if err := gojson.Unmarshal(std, &fc); err != nil {
		return cfg
	}

	cfg.VerifyIntegrity = fc.VerifyIntegrity
	switch fc.IntegrityAlg {
	case "blake2b":
		cfg.IntegrityAlg = onion.IntegrityBlake2b
	case "fnv1a":
		cfg.IntegrityAlg = onion.IntegrityFNV1a
	default:
		cfg.IntegrityAlg = onion.IntegrityXXH3
	}
	return cfg
}
