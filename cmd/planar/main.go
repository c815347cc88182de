// Command-line interface to planar: serve the HTTP API or read planes directly.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/server"
	"github.com/janelia-flyem/planar/storage"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// TOML configuration file.  Defaults to $PLANAR_CONFIG.
	configFile = flag.String("config", "", "")

	// Address for http communication, overriding the configuration.
	httpAddress = flag.String("http", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Plane selection for the read command.
	series  = flag.Int("series", 0, "")
	channel = flag.Int("c", -1, "")
	zIndex  = flag.Int("z", -1, "")
	tIndex  = flag.Int("t", -1, "")
	rescale = flag.Bool("rescale", true, "")

	// Output file for the read command.  Planes are written as msgpack.
	outFile = flag.String("out", "", "")

	// Allow readers to open resources while scoring.
	allowOpen = flag.Bool("open", false, "")
)

const helpMessage = `
planar reads image planes from Zarr stores, raster images, and proxied formats

Usage: planar [options] <command>

      -config     =string   TOML configuration file (default $PLANAR_CONFIG).
      -http       =string   Address for HTTP communication.
      -series     =number   Series to read.
      -c, -z, -t  =number   Channel, z, and time index (-1 reads the whole axis).
      -rescale    (flag)    Rescale integer data to [0, 1].
      -out        =string   Write the plane as msgpack to this file.
      -open       (flag)    Let readers open resources when scoring.
      -cpuprofile =string   Write CPU profile to this file.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	serve
	readers
	select <url or path>
	info   <url or path>
	read   <url or path>
`

func index(n int) planar.Index {
	if n < 0 {
		return planar.Index{}
	}
	return planar.At(n)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() { fmt.Print(helpMessage) }
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Unable to load .env file: %v\n", err)
	}
	if *configFile == "" {
		*configFile = os.Getenv("PLANAR_CONFIG")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Capture ctrl+c and other interrupts.  Then handle graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		planar.Shutdown()
		os.Exit(1)
	}
	planar.Shutdown()
}

func loadConfig() (*server.Config, error) {
	var c *server.Config
	if *configFile == "" {
		c = server.DefaultConfig()
	} else {
		var err error
		if c, err = server.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}
	if *httpAddress != "" {
		c.Server.HTTPAddress = *httpAddress
	}
	if *allowOpen {
		c.Readers.AllowOpen = true
	}
	return c, nil
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	if err := c.Logging.SetLogger(); err != nil {
		return err
	}
	if *runVerbose {
		planar.SetLevel(planar.DebugLevel)
	}

	name := args[0]
	if name != "serve" && name != "readers" && len(args) < 2 {
		return fmt.Errorf("command %q requires a url or path", name)
	}
	s, err := server.New(c)
	if err != nil {
		return err
	}
	defer s.Close()

	switch name {
	case "serve":
		return s.Serve(ctx)
	case "readers":
		for _, d := range s.Registry.Descriptors() {
			fmt.Println(d)
		}
		return nil
	}

	path, url := refArgs(args[1])
	switch name {
	case "select":
		res, err := storage.ParseResource(args[1])
		if err != nil {
			return err
		}
		d, err := s.Selector.Select(ctx, res, c.Readers.AllowOpen)
		if err != nil {
			return err
		}
		fmt.Println(d)
	case "info":
		dims, err := s.Dimensions(ctx, path, url)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(dims, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "read":
		req := reader.PlaneRequest{
			C:        index(*channel),
			Z:        index(*zIndex),
			T:        index(*tIndex),
			Series:   *series,
			Rescale:  *rescale,
			WantsMax: true,
		}
		plane, err := s.ReadPlane(ctx, path, url, req)
		if err != nil {
			return err
		}
		fmt.Printf("%s, max intensity %g\n", plane.Image, plane.MaxIntensity)
		if *outFile != "" {
			data, err := plane.MarshalMsg(nil)
			if err != nil {
				return err
			}
			return os.WriteFile(*outFile, data, 0644)
		}
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

// refArgs splits a command-line reference into the path and url arguments of a read.
func refArgs(ref string) (path, url string) {
	res, err := storage.ParseResource(ref)
	if err != nil || res.Scheme == "" {
		return ref, ""
	}
	return "", ref
}
