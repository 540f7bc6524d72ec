// Command ufsctl is an interactive driver for the ufs library, structured
// the way cmd/distri dispatches its verbs: a map of subcommand name to
// handler function, each parsing its own flag.FlagSet.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/unionfs/ufs"
	"github.com/unionfs/ufs/osfs"
)

func main() {
	log.SetFlags(0)
	if err := run(); err != nil {
		log.Fatalf("ufsctl: %v", err)
	}
}

type cmd struct {
	fn func(args []string) error
}

func run() error {
	verbs := map[string]cmd{
		"create":      {cmdCreate},
		"open":        {cmdOpen},
		"add-area":    {cmdAddArea},
		"add-dir":     {cmdAddDir},
		"add-file":    {cmdAddFile},
		"remove-area": {cmdRemoveArea},
		"remove-dir":  {cmdRemoveDir},
		"remove-file": {cmdRemoveFile},
		"map":         {cmdMap},
		"probe":       {cmdProbe},
		"resolve":     {cmdResolve},
		"ls":          {cmdLs},
		"collapse":    {cmdCollapse},
		"batch":       {cmdBatch},
	}
	if len(os.Args) < 2 {
		return xerrors.New("syntax: ufsctl <command> [options]")
	}
	verb, args := os.Args[1], os.Args[2:]
	v, ok := verbs[verb]
	if !ok {
		return xerrors.Errorf("unknown command %q", verb)
	}
	return v.fn(args)
}

// colorize returns s unchanged when stdout is not a terminal (distri's
// convention of degrading gracefully under a pipe or in CI).
func colorize(code, s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func openImage(fset *flag.FlagSet, extfsRoot string) (*ufs.UFS, error) {
	path := fset.Arg(0)
	if path == "" {
		return nil, xerrors.New("missing <path>")
	}
	var extfs ufs.ExternalFS
	if extfsRoot != "" {
		extfs = osfs.New(extfsRoot)
	}
	return ufs.Open(path, extfs)
}

func cmdCreate(args []string) error {
	fset := flag.NewFlagSet("create", flag.ExitOnError)
	files := fset.Uint64("files", ufs.DefaultSizeRequest.NumFiles, "file arena capacity")
	areas := fset.Uint64("areas", ufs.DefaultSizeRequest.NumAreas, "area arena capacity")
	nodes := fset.Uint64("nodes", ufs.DefaultSizeRequest.NumNodes, "node arena capacity")
	strbytes := fset.Uint64("strbytes", ufs.DefaultSizeRequest.NumStrBytes, "string pool capacity in bytes")
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 1 {
		return xerrors.New("syntax: ufsctl create [-files N] [-areas N] [-nodes N] [-strbytes N] <path>")
	}
	var extfs ufs.ExternalFS
	if *extfsRoot != "" {
		extfs = osfs.New(*extfsRoot)
	}
	sizes := ufs.SizeRequest{NumFiles: *files, NumAreas: *areas, NumNodes: *nodes, NumStrBytes: *strbytes}
	u, err := ufs.Create(fset.Arg(0), sizes, extfs)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	return u.Sync()
}

func cmdOpen(args []string) error {
	fset := flag.NewFlagSet("open", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	return ufs.Destroy(u)
}

func cmdAddArea(args []string) error {
	fset := flag.NewFlagSet("add-area", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 2 {
		return xerrors.New("syntax: ufsctl add-area <image> <name>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	id, err := u.AddArea(fset.Arg(1))
	if err != nil {
		return err
	}
	fmt.Println(int64(id))
	return u.Sync()
}

func cmdAddDir(args []string) error {
	fset := flag.NewFlagSet("add-dir", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 2 {
		return xerrors.New("syntax: ufsctl add-dir <image> <name>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	id, err := u.AddDirectory(fset.Arg(1))
	if err != nil {
		return err
	}
	fmt.Println(int64(id))
	return u.Sync()
}

func cmdAddFile(args []string) error {
	fset := flag.NewFlagSet("add-file", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 3 {
		return xerrors.New("syntax: ufsctl add-file <image> <parent-dir-id> <name>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	parent, err := parseID(fset.Arg(1))
	if err != nil {
		return err
	}
	id, err := u.AddFile(parent, fset.Arg(2))
	if err != nil {
		return err
	}
	fmt.Println(int64(id))
	return u.Sync()
}

func cmdRemoveArea(args []string) error  { return removeByID(args, "remove-area", (*ufs.UFS).RemoveArea) }
func cmdRemoveDir(args []string) error   { return removeByID(args, "remove-dir", (*ufs.UFS).RemoveDirectory) }
func cmdRemoveFile(args []string) error  { return removeByID(args, "remove-file", (*ufs.UFS).RemoveFile) }

func removeByID(args []string, name string, remove func(*ufs.UFS, ufs.Id) error) error {
	fset := flag.NewFlagSet(name, flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 2 {
		return xerrors.Errorf("syntax: ufsctl %s <image> <id>", name)
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	id, err := parseID(fset.Arg(1))
	if err != nil {
		return err
	}
	if err := remove(u, id); err != nil {
		return err
	}
	return u.Sync()
}

func cmdMap(args []string) error {
	fset := flag.NewFlagSet("map", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 3 {
		return xerrors.New("syntax: ufsctl map <image> <area-id> <file|dir:id>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	area, err := parseID(fset.Arg(1))
	if err != nil {
		return err
	}
	s, err := parseStorage(fset.Arg(2))
	if err != nil {
		return err
	}
	if err := u.AddMapping(area, s); err != nil {
		return err
	}
	return u.Sync()
}

func cmdProbe(args []string) error {
	fset := flag.NewFlagSet("probe", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 3 {
		return xerrors.New("syntax: ufsctl probe <image> <area-id> <file|dir:id>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	area, err := parseID(fset.Arg(1))
	if err != nil {
		return err
	}
	s, err := parseStorage(fset.Arg(2))
	if err != nil {
		return err
	}
	if err := u.ProbeMapping(area, s); err != nil {
		fmt.Println(colorize("31", "absent"))
		return nil
	}
	fmt.Println(colorize("32", "present"))
	return nil
}

func cmdResolve(args []string) error {
	fset := flag.NewFlagSet("resolve", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 3 {
		return xerrors.New("syntax: ufsctl resolve <image> <view> <file|dir:id>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	v, err := parseView(fset.Arg(1))
	if err != nil {
		return err
	}
	s, err := parseStorage(fset.Arg(2))
	if err != nil {
		return err
	}
	area, err := u.ResolveStorageInView(v, s)
	if err != nil {
		return err
	}
	fmt.Println(int64(area))
	return nil
}

func cmdLs(args []string) error {
	fset := flag.NewFlagSet("ls", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 3 {
		return xerrors.New("syntax: ufsctl ls <image> <view> <dir-id>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	v, err := parseView(fset.Arg(1))
	if err != nil {
		return err
	}
	dir, err := parseID(fset.Arg(2))
	if err != nil {
		return err
	}
	entries, err := u.IterateDirInView(v, dir)
	if err != nil {
		return err
	}
	return ufs.RunIter(entries, func(s ufs.Storage, cur, total uint64) error {
		fmt.Printf("%d/%d %s:%d\n", cur+1, total, s.Kind, int64(s.Id))
		return nil
	})
}

func cmdCollapse(args []string) error {
	fset := flag.NewFlagSet("collapse", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 2 {
		return xerrors.New("syntax: ufsctl collapse <image> <view>")
	}
	u, err := openImage(fset, *extfsRoot)
	if err != nil {
		return err
	}
	defer ufs.Destroy(u)
	v, err := parseView(fset.Arg(1))
	if err != nil {
		return err
	}
	if err := u.Collapse(v); err != nil {
		return err
	}
	return u.Sync()
}

// cmdBatch runs many "resolve"/"ls" queries concurrently via errgroup,
// grounded on internal/install's use of errgroup for parallel package
// unpacking. The core itself stays single-threaded-cooperative per call
// (spec.md §5); batch demonstrates fan-out across independent *ufs.UFS
// handles opened read-only from the caller's perspective, one per line, not
// concurrent mutation of one handle.
func cmdBatch(args []string) error {
	fset := flag.NewFlagSet("batch", flag.ExitOnError)
	extfsRoot := fset.String("extfs", "", "root directory backing BASE, if any")
	fset.Parse(args)
	if fset.NArg() != 2 {
		return xerrors.New("syntax: ufsctl batch <image> <query-file>")
	}
	path := fset.Arg(0)
	f, err := os.Open(fset.Arg(1))
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return err
	}

	results := make([]string, len(lines))
	g, _ := errgroup.WithContext(context.Background())
	for i, line := range lines {
		i, line := i, line
		g.Go(func() error {
			var extfs ufs.ExternalFS
			if *extfsRoot != "" {
				extfs = osfs.New(*extfsRoot)
			}
			u, err := ufs.Open(path, extfs)
			if err != nil {
				return err
			}
			defer ufs.Destroy(u)
			out, err := runBatchLine(u, line)
			if err != nil {
				return xerrors.Errorf("line %d (%q): %w", i+1, line, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range results {
		fmt.Println(r)
	}
	return nil
}

func runBatchLine(u *ufs.UFS, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", xerrors.New("empty query")
	}
	switch fields[0] {
	case "resolve":
		if len(fields) != 3 {
			return "", xerrors.New("syntax: resolve <view> <file|dir:id>")
		}
		v, err := parseView(fields[1])
		if err != nil {
			return "", err
		}
		s, err := parseStorage(fields[2])
		if err != nil {
			return "", err
		}
		area, err := u.ResolveStorageInView(v, s)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(area), 10), nil
	case "ls":
		if len(fields) != 3 {
			return "", xerrors.New("syntax: ls <view> <dir-id>")
		}
		v, err := parseView(fields[1])
		if err != nil {
			return "", err
		}
		dir, err := parseID(fields[2])
		if err != nil {
			return "", err
		}
		entries, err := u.IterateDirInView(v, dir)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(entries))
		for i, s := range entries {
			parts[i] = fmt.Sprintf("%s:%d", s.Kind, int64(s.Id))
		}
		return strings.Join(parts, ","), nil
	default:
		return "", xerrors.Errorf("unknown batch query %q", fields[0])
	}
}

func parseID(s string) (ufs.Id, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("invalid id %q: %w", s, err)
	}
	return ufs.Id(n), nil
}

// parseStorage accepts "file:<id>" or "dir:<id>".
func parseStorage(s string) (ufs.Storage, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ufs.Storage{}, xerrors.Errorf("invalid storage %q, want file:<id> or dir:<id>", s)
	}
	id, err := parseID(parts[1])
	if err != nil {
		return ufs.Storage{}, err
	}
	switch parts[0] {
	case "file":
		return ufs.FileStorage(id), nil
	case "dir":
		return ufs.DirStorage(id), nil
	default:
		return ufs.Storage{}, xerrors.Errorf("invalid storage kind %q, want file or dir", parts[0])
	}
}

// parseView accepts a comma-separated list of area ids, "base" meaning
// ufs.Base.
func parseView(s string) ([]ufs.Id, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	raw := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "base" {
			raw = append(raw, int64(ufs.Base))
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("invalid view entry %q: %w", p, err)
		}
		raw = append(raw, n)
	}
	raw = append(raw, ufs.ViewTerminator)
	return ufs.ParseView(raw), nil
}
