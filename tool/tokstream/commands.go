// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokstream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/danjacques/gocapture/resource"
	"github.com/danjacques/gocapture/session"
	"github.com/danjacques/gocapture/support/fmtutil"
	"github.com/danjacques/gocapture/support/stagingdir"
	"github.com/danjacques/gocapture/tokenstream"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// copyBlockSize is the size of the blocks read while copying a stream body.
const copyBlockSize = 1024 * 1024

func newInfoCmd(a *app) *cobra.Command {
	var chunks bool

	cmd := &cobra.Command{
		Use:   "info STREAM",
		Short: "Summarize a stream's header, metadata, and chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.info(cmd.OutOrStdout(), args[0], chunks)
		},
	}
	cmd.Flags().BoolVar(&chunks, "chunks", false, "List every chunk.")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify STREAM",
		Short: "Decode every chunk of a stream, reporting corruption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.verify(cmd.OutOrStdout(), args[0])
		},
	}
}

func newRecompressCmd(a *app) *cobra.Command {
	var (
		compression = tokenstream.CompressionFlag(tokenstream.CompressionZSTD)
		level       int
		chunkSize   int
	)

	cmd := &cobra.Command{
		Use:   "recompress SOURCE DEST",
		Short: "Rewrite a stream with different compression",
		Long: `Rewrites SOURCE to DEST, along with its metadata and resource store.

The rewritten files are staged next to DEST and moved into place once they are
complete.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.cfg.StreamConfig(a.logger)
			if err != nil {
				return err
			}
			cfg.Compression = compression.Value()
			if cmd.Flags().Changed("level") {
				cfg.CompressionLevel = level
			}
			if cmd.Flags().Changed("chunk-size") {
				cfg.ChunkSize = chunkSize
			}
			return a.recompress(cmd.OutOrStdout(), args[0], args[1], cfg)
		},
	}

	f := cmd.Flags()
	f.Var(&compression, "compression",
		fmt.Sprintf("Compression to rewrite with. Options are: %s", tokenstream.CompressionFlagValues()))
	f.IntVar(&level, "level", tokenstream.DefaultCompressionLevel,
		fmt.Sprintf("Compression level, from %d to %d.", tokenstream.MinCompressionLevel, tokenstream.MaxCompressionLevel))
	f.IntVar(&chunkSize, "chunk-size", tokenstream.DefaultChunkSize, "Package chunk size, in bytes.")
	return cmd
}

func (a *app) openStream(path string) (*tokenstream.InputStream, error) {
	cfg, err := a.cfg.StreamConfig(a.logger)
	if err != nil {
		return nil, err
	}
	return tokenstream.Open(path, cfg)
}

func (a *app) info(w io.Writer, path string, listChunks bool) error {
	is, err := a.openStream(path)
	if err != nil {
		return err
	}
	defer is.Close()

	h := is.Header()
	fmt.Fprintf(w, "Stream:       %s\n", path)
	fmt.Fprintf(w, "Version:      %s\n", h.Version)
	if !h.Framed() {
		fmt.Fprintf(w, "Layout:       raw\n")
	} else {
		fmt.Fprintf(w, "Compression:  %s\n", h.Compression)
		fmt.Fprintf(w, "Chunk size:   %s\n", fmtutil.Bytes(h.ChunkSize))
	}

	switch md, err := tokenstream.LoadMetadata(path); {
	case err == nil:
		fmt.Fprintf(w, "Name:         %s\n", md.Name)
		fmt.Fprintf(w, "Created:      %s\n", md.Created)
		fmt.Fprintf(w, "Duration:     %s\n", md.Duration)
		fmt.Fprintf(w, "Tokens:       %d (%d frame(s))\n", md.NumTokens, md.NumFrames)
		fmt.Fprintf(w, "Token bytes:  %s\n", fmtutil.Bytes(md.NumBytes))
		for _, f := range md.Families() {
			fmt.Fprintf(w, "  %-12s %d\n", f+":", md.FamilyTokens[f])
		}
	case os.IsNotExist(errors.Cause(err)):
		fmt.Fprintf(w, "Metadata:     none\n")
	default:
		a.logger.Warnf("Could not load metadata: %s", err)
	}

	if !h.Framed() {
		return nil
	}

	counts := make(map[tokenstream.WriteType]int)
	var raw, compressed int64
	err = is.Scan(func(ci *tokenstream.ChunkInfo) error {
		counts[ci.Type]++
		raw += int64(ci.Size)
		compressed += int64(ci.CompressedSize)
		if listChunks {
			fmt.Fprintf(w, "  @%-12d %-16s %10d -> %10d", ci.Offset, ci.Type, ci.Size, ci.CompressedSize)
			if ci.SubChunks > 0 {
				fmt.Fprintf(w, " (%d sub-chunks)", ci.SubChunks)
			}
			fmt.Fprintln(w)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scanning chunks")
	}

	types := make([]tokenstream.WriteType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(w, "Chunks:       %d %s\n", counts[t], t)
	}
	fmt.Fprintf(w, "Payload:      %s -> %s (%s)\n",
		fmtutil.Bytes(raw), fmtutil.Bytes(compressed), fmtutil.Ratio(compressed, raw))
	return nil
}

func (a *app) verify(w io.Writer, path string) error {
	is, err := a.openStream(path)
	if err != nil {
		return err
	}
	defer is.Close()

	chunks := 0
	hdr := is.Header()
	if hdr.Framed() {
		if err := is.Scan(func(*tokenstream.ChunkInfo) error {
			chunks++
			return nil
		}); err != nil {
			return errors.Wrap(err, "scanning chunks")
		}
	}

	n, err := copyBody(io.Discard, is)
	if err != nil {
		return errors.Wrap(err, "decoding stream")
	}
	fmt.Fprintf(w, "OK: %s decoded from %d chunk(s).\n", fmtutil.Bytes(n), chunks)
	return nil
}

func (a *app) recompress(w io.Writer, src, dest string, cfg tokenstream.Config) error {
	is, err := a.openStream(src)
	if err != nil {
		return err
	}
	defer is.Close()

	destDir, destName := filepath.Split(dest)
	if destDir == "" {
		destDir = "."
	}
	sd, err := stagingdir.New(destDir, ".tokstream_staging")
	if err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	defer func() {
		if err := sd.Destroy(); err != nil {
			a.logger.Warnf("Failed to remove staging directory: %s", err)
		}
	}()

	out, err := tokenstream.Create(sd.Path(destName), cfg)
	if err != nil {
		return err
	}
	n, err := copyBody(out, is)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "copying stream")
	}

	switch md, err := tokenstream.LoadMetadata(src); {
	case err == nil:
		h := out.Header()
		md.StreamVersion = h.Version
		md.Compression = h.Compression
		md.ChunkSize = h.ChunkSize
		if err := md.Write(tokenstream.MetadataPath(sd.Path(destName))); err != nil {
			return errors.Wrap(err, "writing metadata")
		}
	case !os.IsNotExist(errors.Cause(err)):
		return errors.Wrap(err, "loading metadata")
	}

	resources, err := a.recompressResources(session.ResourcePath(src), session.ResourcePath(sd.Path(destName)), cfg)
	if err != nil {
		return err
	}

	if err := sd.Commit(destDir); err != nil {
		return err
	}
	fmt.Fprintf(w, "Rewrote %s with %s (%d resource(s)) to %q.\n", fmtutil.Bytes(n), cfg.Compression, resources, dest)
	return nil
}

func (a *app) recompressResources(src, dest string, cfg tokenstream.Config) (int, error) {
	if _, err := os.Stat(resource.IndexPath(src)); os.IsNotExist(err) {
		return 0, nil
	}

	in, err := resource.Open(src, cfg)
	if err != nil {
		return 0, errors.Wrap(err, "opening resource store")
	}
	defer in.Close()

	out, err := resource.Create(dest, cfg)
	if err != nil {
		return 0, errors.Wrap(err, "creating resource store")
	}
	for _, h := range in.Hashes() {
		data, err := in.Get(h)
		if err == nil {
			_, err = out.Put(data)
		}
		if err != nil {
			_ = out.Close()
			return 0, errors.Wrapf(err, "copying resource %016x", h)
		}
	}
	return out.Len(), out.Close()
}

// copyBody copies the decoded body of is to w. It returns the number of bytes
// copied.
func copyBody(w io.Writer, is *tokenstream.InputStream) (int64, error) {
	if err := is.Reset(); err != nil {
		return 0, err
	}

	buf := make([]byte, copyBlockSize)
	var total int64
	for {
		n, err := is.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}

		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			// The final block is usually short.
			return total, nil
		default:
			return total, err
		}
	}
}
