// pngatlas inspects PNG files with the in-tree decoder and builds texture
// atlases offline.
//
//	pngatlas info sprite.png ...
//	pngatlas raw sprite.png sprite.rgba
//	pngatlas pack -o atlas.png -W 1024 -H 1024 sprites/*.png
package main

import (
	"fmt"
	"image"
	stdpng "image/png"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	spritebatch "github.com/flippedbit/go-spritebatch"
	"github.com/flippedbit/go-spritebatch/png"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func main() {
	root := &cobra.Command{
		Use:           "pngatlas",
		Short:         "Inspect PNGs and build texture atlases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(infoCommand(), rawCommand(), packCommand())
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func decodeFile(path string) (*png.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file.png> ...",
		Short: "Print decoded image dimensions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				img, err := decodeFile(path)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %dx%d, %d bytes RGBA\n", path, img.Width, img.Height, len(img.Pixels))
			}
			return nil
		},
	}
}

func rawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "raw <in.png> <out.rgba>",
		Short: "Decode a PNG to raw RGBA bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := decodeFile(args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], img.Pixels, 0o644); err != nil {
				return err
			}
			log.Info().Str("file", args[1]).Int("bytes", len(img.Pixels)).Msg("wrote raw pixels")
			return nil
		},
	}
}

func packCommand() *cobra.Command {
	var (
		output string
		width  int
		height int
		border bool
	)
	cmd := &cobra.Command{
		Use:   "pack -o <atlas.png> <file.png> ...",
		Short: "Pack PNGs into one atlas and print a UV manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var images []spritebatch.PackImage
			for i, path := range args {
				img, err := decodeFile(path)
				if err != nil {
					return err
				}
				images = append(images, spritebatch.PackImage{
					ID:     spritebatch.ImageID(i),
					Width:  img.Width,
					Height: img.Height,
					Pixels: img.Pixels,
				})
			}

			result, err := spritebatch.Pack(images, spritebatch.PackOptions{
				CanvasWidth:  width,
				CanvasHeight: height,
				PixelStride:  4,
				BorderPixels: border,
			})
			if err != nil {
				return err
			}

			atlas := &image.NRGBA{
				Pix:    result.Canvas,
				Stride: width * 4,
				Rect:   image.Rect(0, 0, width, height),
			}
			out, err := os.Create(output)
			if err != nil {
				return err
			}
			defer out.Close()
			if err := stdpng.Encode(out, atlas); err != nil {
				return err
			}

			for i, p := range result.Placements {
				if !p.Fit {
					log.Warn().Str("file", args[i]).Msg("did not fit in atlas")
					continue
				}
				fmt.Printf("%s %d %d %d %d %.6f %.6f %.6f %.6f\n",
					args[i], p.X, p.Y, images[i].Width, images[i].Height,
					p.MinU, p.MinV, p.MaxU, p.MaxV)
			}
			log.Info().
				Str("file", output).
				Float64("fill_ratio", result.FillRatio).
				Msg("wrote atlas")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "atlas.png", "output atlas file")
	cmd.Flags().IntVarP(&width, "width", "W", 1024, "atlas width in pixels")
	cmd.Flags().IntVarP(&height, "height", "H", 1024, "atlas height in pixels")
	cmd.Flags().BoolVar(&border, "border", false, "pack with 1px transparent borders")
	return cmd
}
