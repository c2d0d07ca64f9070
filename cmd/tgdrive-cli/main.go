// Package main is the terminal front end for the Telegram Drive daemon.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/caamer20/Telegram-Drive/internal/bandwidth"
	"github.com/caamer20/Telegram-Drive/internal/client"
	"github.com/caamer20/Telegram-Drive/internal/config"
	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/models"
	"github.com/caamer20/Telegram-Drive/internal/peer"
)

var (
	serverURL string
	tokenFile string
)

func main() {
	defaults := config.Default()
	flag.StringVar(&serverURL, "server", envOr("TGDRIVE_SERVER", "http://"+defaults.APIAddr), "Daemon URL")
	flag.StringVar(&tokenFile, "token-file", envOr("TGDRIVE_TOKEN_FILE", defaults.TokenPath()), "API token file written by the daemon")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "login":
		cmdLogin(cmdArgs)
	case "logout":
		cmdLogout(cmdArgs)
	case "status":
		cmdStatus(cmdArgs)
	case "ls", "list":
		cmdList(cmdArgs)
	case "tree":
		cmdTree(cmdArgs)
	case "upload", "put":
		cmdUpload(cmdArgs)
	case "download", "get":
		cmdDownload(cmdArgs)
	case "rm":
		cmdRemove(cmdArgs)
	case "mv":
		cmdMove(cmdArgs)
	case "preview":
		cmdPreview(cmdArgs)
	case "thumb":
		cmdThumb(cmdArgs)
	case "folders":
		cmdFolders(cmdArgs)
	case "mkdir":
		cmdMkdir(cmdArgs)
	case "rmdir":
		cmdRmdir(cmdArgs)
	case "bandwidth", "bw":
		cmdBandwidth(cmdArgs)
	case "clean-cache":
		cmdCleanCache(cmdArgs)
	case "net":
		cmdNetwork(cmdArgs)
	case "watch":
		cmdWatch(cmdArgs)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Telegram Drive CLI

Usage: tgdrive-cli [flags] <command> [args]

Flags:
  -server <url>        Daemon URL (default: http://127.0.0.1:8321)
  -token-file <path>   API token file written by the daemon

Commands:
  login -app-id <id> -app-hash <hash> -phone <phone>
                       Connect and sign in (prompts for code and password)
  logout               Sign out and delete the session
  status               Show daemon and session status
  ls [-folder id]      List files in a folder (default: Saved Messages)
  tree                 Show all folders and their files
  upload [-folder id] <path>...
                       Upload files
  download [-folder id] <message-id> <save-path>
                       Download a file
  rm [-folder id] <message-id>...
                       Delete files
  mv -from <id> -to <id> <message-id>...
                       Move files between folders ("me" is Saved Messages)
  preview [-folder id] <message-id>
                       Fetch a file into the preview cache
  thumb [-folder id] <message-id>
                       Print a thumbnail data URI
  folders              List folders
  mkdir <name>         Create a folder
  rmdir <folder-id>    Delete a folder and its files
  bandwidth, bw        Show today's transfer usage
  clean-cache          Delete cached previews and thumbnails
  net                  Check connectivity to Telegram
  watch                Print drive changes as they happen
  help                 Show this help message

Examples:
  tgdrive-cli login -app-id 12345 -app-hash 0123abcd -phone +15550100
  tgdrive-cli upload -folder 1234567890 ./report.pdf
  tgdrive-cli mv -from me -to 1234567890 42 43`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	token := os.Getenv("TGDRIVE_TOKEN")
	if token == "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			fatalf("No API token: %v\nIs the daemon running?", err)
		}
		token = strings.TrimSpace(string(data))
	}
	return client.New(client.Config{BaseURL: serverURL, AuthToken: token})
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func check(err error) {
	if err == nil {
		return
	}
	var e *client.Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		fatalf("Error: %v (retry in %ds)", err, e.RetryAfter)
	}
	fatalf("Error: %v", err)
}

// interruptible returns a context cancelled on Ctrl-C.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// folderFlag registers the -folder flag on fs.
func folderFlag(fs *flag.FlagSet) *string {
	return fs.String("folder", "", `Folder id ("me" or empty for Saved Messages)`)
}

func parseFolder(s string) *int64 {
	id, err := peer.ParseFolder(s)
	if err != nil {
		fatalf("%v", err)
	}
	return id
}

func parseIDs(args []string) []int {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			fatalf("Invalid message id: %s", a)
		}
		ids = append(ids, id)
	}
	return ids
}

func folderLabel(id *int64) string {
	if id == nil {
		return "Saved Messages"
	}
	return strconv.FormatInt(*id, 10)
}

// ─── Session ────────────────────────────────────────────────────────────────

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	appID := fs.Int("app-id", 0, "Telegram application id")
	appHash := fs.String("app-hash", "", "Telegram application hash")
	phone := fs.String("phone", "", "Phone number in international format")
	fs.Parse(args)

	if *appID == 0 || *appHash == "" {
		fatalf("Usage: tgdrive-cli login -app-id <id> -app-hash <hash> -phone <phone>")
	}

	c := newClient()
	ctx, cancel := interruptible()
	defer cancel()
	reader := bufio.NewReader(os.Stdin)

	_, err := c.Connect(ctx, *appID)
	check(err)

	if *phone == "" {
		fmt.Print("Phone: ")
		line, _ := reader.ReadString('\n')
		*phone = strings.TrimSpace(line)
	}
	check(c.RequestCode(ctx, *phone, *appID, *appHash))

	fmt.Print("Code: ")
	code, _ := reader.ReadString('\n')
	res, err := c.SignIn(ctx, strings.TrimSpace(code))
	check(err)

	if res.NextStep == models.StepPassword {
		prompt := "Password"
		if res.Hint != "" {
			prompt += " (hint: " + res.Hint + ")"
		}
		fmt.Print(prompt + ": ")
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fatalf("Error reading password: %v", err)
		}
		res, err = c.CheckPassword(ctx, string(pw))
		check(err)
	}

	if !res.Success {
		fatalf("Sign-in failed: %s", res.Error)
	}
	fmt.Println("Signed in.")
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := interruptible()
	defer cancel()
	check(newClient().Logout(ctx))
	fmt.Println("Logged out.")
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	c := newClient()
	ctx, cancel := interruptible()
	defer cancel()

	h, err := c.Ping(ctx)
	check(err)
	fmt.Printf("Daemon:   %s (version %s)\n", h.Status, h.Version)

	conn, err := c.Connection(ctx)
	check(err)
	fmt.Printf("Session:  %s\n", conn.Status)
	if conn.AppID != 0 {
		fmt.Printf("App id:   %d\n", conn.AppID)
	}
}

// ─── Files ──────────────────────────────────────────────────────────────────

func cmdList(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	folder := folderFlag(fs)
	fs.Parse(args)

	ctx, cancel := interruptible()
	defer cancel()
	files, err := newClient().ListFiles(ctx, parseFolder(*folder))
	check(err)
	printFiles(files)
}

func printFiles(files []models.File) {
	if len(files) == 0 {
		fmt.Println("No files")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tTYPE\tCREATED")
	fmt.Fprintln(w, "--\t----\t----\t----\t-------")
	for _, f := range files {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			f.ID, f.Name, bandwidth.FormatBytes(f.Size), f.IconType, formatTime(f.CreatedAt))
	}
	w.Flush()
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04")
}

func cmdTree(args []string) {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	fs.Parse(args)

	c := newClient()
	ctx, cancel := interruptible()
	defer cancel()

	folders, err := c.Folders(ctx)
	check(err)

	home, err := c.ListFiles(ctx, nil)
	check(err)
	listing := make(map[int64][]models.File, len(folders))
	for _, f := range folders {
		files, err := c.ListFiles(ctx, &f.ID)
		check(err)
		listing[f.ID] = files
	}
	fmt.Print(renderTree(home, folders, listing))
}

func cmdUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	folder := folderFlag(fs)
	fs.Parse(args)
	if fs.NArg() == 0 {
		fatalf("Usage: tgdrive-cli upload [-folder id] <path>...")
	}

	c := newClient()
	ctx, cancel := interruptible()
	defer cancel()
	folderID := parseFolder(*folder)

	for _, p := range fs.Args() {
		abs, err := filepath.Abs(p)
		if err != nil {
			fatalf("Invalid path %s: %v", p, err)
		}
		f, err := c.Upload(ctx, abs, folderID)
		check(err)
		fmt.Printf("Uploaded %s (%s) to %s\n", f.Name, bandwidth.FormatBytes(f.Size), folderLabel(folderID))
	}
}

func cmdDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	folder := folderFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 2 {
		fatalf("Usage: tgdrive-cli download [-folder id] <message-id> <save-path>")
	}

	id := parseIDs(fs.Args()[:1])[0]
	savePath, err := filepath.Abs(fs.Arg(1))
	if err != nil {
		fatalf("Invalid path %s: %v", fs.Arg(1), err)
	}

	ctx, cancel := interruptible()
	defer cancel()
	msg, err := newClient().Download(ctx, id, savePath, parseFolder(*folder))
	check(err)
	fmt.Printf("%s: %s\n", msg, savePath)
}

func cmdRemove(args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	folder := folderFlag(fs)
	fs.Parse(args)
	if fs.NArg() == 0 {
		fatalf("Usage: tgdrive-cli rm [-folder id] <message-id>...")
	}

	c := newClient()
	ctx, cancel := interruptible()
	defer cancel()
	folderID := parseFolder(*folder)
	for _, id := range parseIDs(fs.Args()) {
		check(c.Delete(ctx, id, folderID))
		fmt.Printf("Deleted %d\n", id)
	}
}

func cmdMove(args []string) {
	fs := flag.NewFlagSet("mv", flag.ExitOnError)
	from := fs.String("from", "", "Source folder id")
	to := fs.String("to", "", "Target folder id")
	fs.Parse(args)
	if fs.NArg() == 0 {
		fatalf("Usage: tgdrive-cli mv -from <id> -to <id> <message-id>...")
	}

	ids := parseIDs(fs.Args())
	source, target := parseFolder(*from), parseFolder(*to)

	ctx, cancel := interruptible()
	defer cancel()
	check(newClient().Move(ctx, ids, source, target))
	fmt.Printf("Moved %d file(s) from %s to %s\n", len(ids), folderLabel(source), folderLabel(target))
}

func cmdPreview(args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	folder := folderFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("Usage: tgdrive-cli preview [-folder id] <message-id>")
	}

	ctx, cancel := interruptible()
	defer cancel()
	res, err := newClient().Preview(ctx, parseIDs(fs.Args())[0], parseFolder(*folder))
	check(err)
	if strings.HasPrefix(res, "data:") {
		fmt.Printf("Image preview (%d bytes as data URI)\n", len(res))
		return
	}
	fmt.Println(res)
}

func cmdThumb(args []string) {
	fs := flag.NewFlagSet("thumb", flag.ExitOnError)
	folder := folderFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("Usage: tgdrive-cli thumb [-folder id] <message-id>")
	}

	ctx, cancel := interruptible()
	defer cancel()
	res, err := newClient().Thumbnail(ctx, parseIDs(fs.Args())[0], parseFolder(*folder))
	check(err)
	if res == "" {
		fmt.Println("No thumbnail")
		return
	}
	fmt.Println(res)
}

// ─── Folders ────────────────────────────────────────────────────────────────

func cmdFolders(args []string) {
	fs := flag.NewFlagSet("folders", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := interruptible()
	defer cancel()
	folders, err := newClient().Folders(ctx)
	check(err)
	if len(folders) == 0 {
		fmt.Println("No folders")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	fmt.Fprintln(w, "--\t----")
	for _, f := range folders {
		fmt.Fprintf(w, "%d\t%s\n", f.ID, f.Name)
	}
	w.Flush()
}

func cmdMkdir(args []string) {
	if len(args) != 1 {
		fatalf("Usage: tgdrive-cli mkdir <name>")
	}
	ctx, cancel := interruptible()
	defer cancel()
	f, err := newClient().CreateFolder(ctx, args[0])
	check(err)
	fmt.Printf("Created folder %s (%d)\n", f.Name, f.ID)
}

func cmdRmdir(args []string) {
	if len(args) != 1 {
		fatalf("Usage: tgdrive-cli rmdir <folder-id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fatalf("Invalid folder id: %s", args[0])
	}
	ctx, cancel := interruptible()
	defer cancel()
	check(newClient().DeleteFolder(ctx, id))
	fmt.Printf("Deleted folder %d\n", id)
}

// ─── Housekeeping ───────────────────────────────────────────────────────────

func cmdBandwidth(args []string) {
	fs := flag.NewFlagSet("bandwidth", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := interruptible()
	defer cancel()
	bw, err := newClient().Bandwidth(ctx)
	check(err)

	used := bw.UpBytes + bw.DownBytes
	fmt.Println("Bandwidth Usage")
	fmt.Println("---------------")
	fmt.Printf("Date:         %s\n", bw.Date)
	fmt.Printf("Uploaded:     %s\n", bandwidth.FormatBytes(bw.UpBytes))
	fmt.Printf("Downloaded:   %s\n", bandwidth.FormatBytes(bw.DownBytes))
	if bw.Limit > 0 {
		fmt.Printf("Limit:        %s\n", bandwidth.FormatBytes(bw.Limit))
		fmt.Printf("Usage:        %.1f%%\n", float64(used)/float64(bw.Limit)*100)
	}
}

func cmdCleanCache(args []string) {
	ctx, cancel := interruptible()
	defer cancel()
	check(newClient().CleanCache(ctx))
	fmt.Println("Cache cleared.")
}

func cmdNetwork(args []string) {
	ctx, cancel := interruptible()
	defer cancel()
	ok, err := newClient().Network(ctx)
	check(err)
	if ok {
		fmt.Println("Telegram is reachable.")
		return
	}
	fmt.Println("Telegram is unreachable.")
	os.Exit(2)
}

func cmdWatch(args []string) {
	ctx, cancel := interruptible()
	defer cancel()
	for e := range newClient().Watch(ctx) {
		fmt.Println(describeEvent(e))
	}
}

func describeEvent(e events.Event) string {
	ts := time.Unix(e.Timestamp, 0).Local().Format("15:04:05")
	switch e.Type {
	case events.EventUpload:
		return fmt.Sprintf("%s  uploaded %s (%s) to %s", ts, e.Name, bandwidth.FormatBytes(e.Size), folderLabel(e.FolderID))
	case events.EventDownload:
		return fmt.Sprintf("%s  downloaded %v from %s", ts, e.Messages, folderLabel(e.FolderID))
	case events.EventDelete:
		return fmt.Sprintf("%s  deleted %v from %s", ts, e.Messages, folderLabel(e.FolderID))
	case events.EventMove:
		return fmt.Sprintf("%s  moved %v from %s to %s", ts, e.Messages, folderLabel(e.FolderID), folderLabel(e.TargetID))
	case events.EventFolderCreate:
		return fmt.Sprintf("%s  created folder %s", ts, e.Name)
	case events.EventFolderDelete:
		return fmt.Sprintf("%s  deleted folder %s", ts, folderLabel(e.FolderID))
	case events.EventSessionChange:
		return fmt.Sprintf("%s  session %s", ts, e.Name)
	}
	return fmt.Sprintf("%s  %s", ts, e.Type)
}
