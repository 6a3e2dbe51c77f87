// copick is a command line client for the copick server: read and write
// chunks, list keys, and create new segmentation arrays.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/copick/copick-server-go/go/client"
)

const (
	serverFlag     = "server"
	projectFlag    = "project"
	rangeFlag      = "range"
	outFlag        = "out"
	runFlag        = "run"
	voxelSizeFlag  = "voxel-size"
	userFlag       = "user"
	sessionFlag    = "session"
	nameFlag       = "name"
	multilabelFlag = "multilabel"
	shapeFlag      = "shape"
	chunkShapeFlag = "chunk-shape"
	chunkFlag      = "chunk"
)

// newClient builds a client from the global --server flag.
func newClient(c *cli.Context) (*client.Client, error) {
	return client.New(c.String(serverFlag))
}

// parseInts parses a comma-separated list of integers, e.g. "64,64,64".
func parseInts(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var ret []int64
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid integer list %q", s)
		}
		ret = append(ret, n)
	}
	return ret, nil
}

// parseChunkArg parses one --chunk argument of the form "z,y,x=file".
func parseChunkArg(arg string) (client.Chunk, error) {
	var ret client.Chunk
	coords, filename, ok := strings.Cut(arg, "=")
	if !ok {
		return ret, errors.Errorf("--chunk %q must have the form coords=file, e.g. 0,0,0=chunk.bin", arg)
	}
	c, err := parseInts(coords)
	if err != nil {
		return ret, err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return ret, errors.Wrapf(err, "reading chunk file %s", filename)
	}
	ret.Coords = c
	ret.Data = data
	return ret, nil
}

func main() {
	app := &cli.App{
		Name:  "copick",
		Usage: "Client for the copick chunk protocol server.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  serverFlag,
				Value: "http://127.0.0.1:8000",
				Usage: "Base URL of the copick server.",
			},
			&cli.StringFlag{
				Name:     projectFlag,
				Usage:    "Project name.",
				Required: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Read a key and write its bytes to stdout or --out.",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  rangeFlag,
						Usage: "Byte range to read, as 'start-end' (half-open).",
					},
					&cli.StringFlag{
						Name:  outFlag,
						Usage: "File to write the bytes to instead of stdout.",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("exactly one key is required")
					}
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					key := c.Args().First()
					var b []byte
					if r := c.String(rangeFlag); r != "" {
						first, last, ok := strings.Cut(r, "-")
						if !ok {
							return errors.Errorf("--range %q must have the form start-end", r)
						}
						start, err := strconv.ParseInt(first, 10, 64)
						if err != nil {
							return errors.Wrapf(err, "invalid range start %q", first)
						}
						end, err := strconv.ParseInt(last, 10, 64)
						if err != nil {
							return errors.Wrapf(err, "invalid range end %q", last)
						}
						b, err = cl.GetRange(c.Context, c.String(projectFlag), key, start, end)
						if err != nil {
							return err
						}
					} else {
						b, err = cl.Get(c.Context, c.String(projectFlag), key)
						if err != nil {
							return err
						}
					}
					if out := c.String(outFlag); out != "" {
						return os.WriteFile(out, b, 0644)
					}
					_, err = os.Stdout.Write(b)
					return err
				},
			},
			{
				Name:      "put",
				Usage:     "Write a file's bytes under a key.",
				ArgsUsage: "<key> <file>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return errors.New("a key and a file are required")
					}
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					b, err := os.ReadFile(c.Args().Get(1))
					if err != nil {
						return errors.Wrap(err, "reading input file")
					}
					return cl.Put(c.Context, c.String(projectFlag), c.Args().First(), b)
				},
			},
			{
				Name:      "rm",
				Usage:     "Delete a key. Base dataset content is shadowed, never modified.",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("exactly one key is required")
					}
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					return cl.Delete(c.Context, c.String(projectFlag), c.Args().First())
				},
			},
			{
				Name:      "ls",
				Usage:     "List the immediate children under a prefix.",
				ArgsUsage: "[prefix]",
				Action: func(c *cli.Context) error {
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					l, err := cl.List(c.Context, c.String(projectFlag), c.Args().First())
					if err != nil {
						return err
					}
					for _, name := range l.Names {
						fmt.Println(name)
					}
					return nil
				},
			},
			{
				Name:  "new-segmentation",
				Usage: "Create a new segmentation array: metadata first, then any chunks.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: runFlag, Usage: "Run name.", Required: true},
					&cli.Float64Flag{Name: voxelSizeFlag, Usage: "Voxel size.", Required: true},
					&cli.StringFlag{Name: userFlag, Usage: "User ID.", Required: true},
					&cli.StringFlag{Name: sessionFlag, Usage: "Session ID.", Required: true},
					&cli.StringFlag{Name: nameFlag, Usage: "Segmentation name.", Required: true},
					&cli.BoolFlag{Name: multilabelFlag, Usage: "Store multiple labels (uint64) instead of a binary mask."},
					&cli.StringFlag{Name: shapeFlag, Usage: "Array shape, e.g. 64,64,64.", Required: true},
					&cli.StringFlag{Name: chunkShapeFlag, Usage: "Chunk shape, e.g. 32,32,32.", Required: true},
					&cli.StringSliceFlag{Name: chunkFlag, Usage: "Chunk to upload, as coords=file (repeatable)."},
				},
				Action: func(c *cli.Context) error {
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					shape, err := parseInts(c.String(shapeFlag))
					if err != nil {
						return err
					}
					chunkShape, err := parseInts(c.String(chunkShapeFlag))
					if err != nil {
						return err
					}
					var chunks []client.Chunk
					for _, arg := range c.StringSlice(chunkFlag) {
						chunk, err := parseChunkArg(arg)
						if err != nil {
							return err
						}
						chunks = append(chunks, chunk)
					}
					prefix, err := cl.CreateSegmentation(c.Context, client.CreateSegmentationRequest{
						Project:    c.String(projectFlag),
						Run:        c.String(runFlag),
						VoxelSize:  c.Float64(voxelSizeFlag),
						UserID:     c.String(userFlag),
						SessionID:  c.String(sessionFlag),
						Name:       c.String(nameFlag),
						Multilabel: c.Bool(multilabelFlag),
						Shape:      shape,
						ChunkShape: chunkShape,
						Chunks:     chunks,
					})
					if err != nil {
						return err
					}
					fmt.Println(prefix)
					return nil
				},
			},
		},
	}
	app.RunAndExitOnError()
}
