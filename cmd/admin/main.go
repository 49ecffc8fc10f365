// Команда admin управляет opportunities через административный API:
//
//	admin list [-q строка] [-server]
//	admin create -position P -description D [-link L] -image файл
//	admin edit -id ID [-position P] [-description D] [-link L] [-image файл]
//	admin delete -id ID
package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/admin"
	"OpportunitiesService/internal/config"
	"OpportunitiesService/internal/model"
)

// printingBackend печатает прогресс загрузки формы
type printingBackend struct {
	*admin.HTTPBackend
}

func (b printingBackend) Submit(ctx context.Context, in model.SubmitInput, onProgress func(int)) (*model.Opportunity, error) {
	return b.HTTPBackend.Submit(ctx, in, func(pct int) {
		onProgress(pct)
		fmt.Fprintf(os.Stderr, "\rupload %3d%%", pct)
		if pct == 100 {
			fmt.Fprintln(os.Stderr)
		}
	})
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	apiURL := os.Getenv("ADMIN_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost" + cfg.HTTPAddr
	}
	backend := printingBackend{admin.NewHTTPBackend(apiURL, &http.Client{Timeout: 2 * time.Minute})}
	resolver := model.ImageResolver{BaseURL: cfg.PublicStorageURL, Bucket: cfg.Bucket, Fallback: cfg.FallbackImage}
	m := admin.NewManager(backend, resolver)

	ctx := context.Background()
	if err := run(ctx, m, backend.HTTPBackend, os.Args[1], os.Args[2:]); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin list|create|edit|delete [flags]")
}

func run(ctx context.Context, m *admin.Manager, api *admin.HTTPBackend, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	query := fs.String("q", "", "строка поиска")
	id := fs.String("id", "", "id записи")
	position := fs.String("position", "", "должность")
	description := fs.String("description", "", "описание")
	link := fs.String("link", "", "ссылка для отклика")
	image := fs.String("image", "", "путь к файлу изображения")
	server := fs.Bool("server", false, "искать на сервере (list)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if cmd == "list" && *server {
		found, err := api.Search(ctx, *query)
		if err != nil {
			return err
		}
		printList(found, len(found))
		return nil
	}
	if err := m.Refresh(ctx); err != nil {
		return err
	}

	switch cmd {
	case "list":
		m.SetSearch(*query)
		printList(m.Visible(), len(m.Items()))
		return nil
	case "create":
		m.OpenCreate()
	case "edit":
		if err := m.OpenEdit(*id); err != nil {
			return err
		}
	case "delete":
		if err := m.Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", *id)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	// незаданные флаги оставляют значения, подставленные OpenEdit
	f := m.Form()
	if set["position"] {
		f.Position = *position
	}
	if set["description"] {
		f.Description = *description
	}
	if set["link"] {
		f.Link = *link
	}
	if err := m.SetFields(f.Position, f.Description, f.Link); err != nil {
		return err
	}
	if *image != "" {
		a, err := readAttachment(*image)
		if err != nil {
			return err
		}
		if err := m.SetImage(a); err != nil {
			return err
		}
	}
	o, err := m.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s\n", o.ID)
	return nil
}

func readAttachment(path string) (*admin.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &admin.Attachment{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}

func printList(list []model.Opportunity, total int) {
	if len(list) == 0 {
		fmt.Println("no opportunities")
		return
	}
	for _, o := range list {
		link := "-"
		if o.Link != nil {
			link = *o.Link
		}
		image := "-"
		if o.Image != nil {
			image = *o.Image
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", o.ID, o.CreatedAt.Format(time.DateOnly), o.Position, link, image)
	}
	fmt.Printf("%d of %d\n", len(list), total)
}
