package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/vault"
)

type command struct {
	summary string
	// auth commands need a restored session; view is the screen they stand
	// in for when a password change is pending.
	auth bool
	view string
	run  func(ctx context.Context, svc *vault.Service, args []string) error
}

var errUsage = errors.New("invalid arguments")

var stdin = bufio.NewReader(os.Stdin)

var commands = map[string]command{
	"login":    {summary: "sign in and store the credentials", run: runLogin},
	"logout":   {summary: "forget the stored credentials", run: runLogout},
	"register": {summary: "create an account", run: runRegister},
	"me":       {summary: "show the signed in user", auth: true, view: "/perfil", run: runMe},
	"profile":  {summary: "update a user's name or avatar", auth: true, view: "/perfil", run: runProfile},
	"passwd":   {summary: "change your password", auth: true, view: "/atualizar-senha", run: runPasswd},
	"roles":    {summary: "list roles", auth: true, view: "/usuarios", run: runRoles},
	"users":    {summary: "list the users holding a role", auth: true, view: "/usuarios", run: runUsers},
	"theses":   {summary: "search the repository", auth: true, view: "/teses", run: runTheses},
	"mine":     {summary: "list theses you wrote or advise", auth: true, view: "/minhas-teses", run: runMine},
	"thesis":   {summary: "show one thesis", auth: true, view: "/teses", run: runThesis},
	"create":   {summary: "submit a thesis", auth: true, view: "/teses/nova", run: runCreate},
	"update":   {summary: "edit a thesis", auth: true, view: "/teses/editar", run: runUpdate},
	"delete":   {summary: "remove a thesis", auth: true, view: "/teses", run: runDelete},
	"download": {summary: "save a thesis PDF", auth: true, view: "/teses", run: runDownload},
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: vault <command> [flags]\n\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%s\n", name, commands[name].summary)
	}
	w.Flush()
}

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet("vault "+name, flag.ContinueOnError)
}

// optional returns a pointer to value when the flag was given explicitly.
func optional(fs *flag.FlagSet, name, value string) *string {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	if !set {
		return nil
	}
	return &value
}

// secret takes a flag value, then the environment, then a line from stdin.
func secret(value, env, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// upload opens path for a multipart part. The caller closes the file.
func upload(path string) (*models.Upload, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return &models.Upload{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Body:        f,
	}, f, nil
}

func runLogin(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("login")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password (defaults to $MINERVA_PASSWORD or a prompt)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pass, err := secret(*password, "MINERVA_PASSWORD", "Senha: ")
	if err != nil {
		return err
	}

	user, err := svc.Login(ctx, *username, pass)
	if err != nil {
		return err
	}
	fmt.Printf("Bem-vindo, %s %s.\n", user.FirstName, user.LastName)
	if st := user.PasswordStatus; st != nil && st.Urgency != models.UrgencyOK {
		fmt.Printf("Sua senha expira em %d dia(s). Use: vault passwd\n", st.DaysUntilExpiration)
	}
	return nil
}

func runLogout(_ context.Context, svc *vault.Service, _ []string) error {
	svc.Logout()
	fmt.Println("Sessão encerrada.")
	return nil
}

func runRegister(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("register")
	var in models.CreateUserInput
	fs.StringVar(&in.Username, "username", "", "username")
	fs.StringVar(&in.Email, "email", "", "email")
	fs.StringVar(&in.FirstName, "first", "", "first name")
	fs.StringVar(&in.LastName, "last", "", "last name")
	fs.StringVar(&in.RoleID, "role", "", "role ID (see vault roles)")
	password := fs.String("password", "", "password (defaults to $MINERVA_PASSWORD or a prompt)")
	avatar := fs.String("avatar", "", "avatar image file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pass, err := secret(*password, "MINERVA_PASSWORD", "Senha: ")
	if err != nil {
		return err
	}
	in.Password = pass
	in.PasswordConfirmation = pass

	if *avatar != "" {
		up, f, err := upload(*avatar)
		if err != nil {
			return err
		}
		defer f.Close()
		in.Avatar = up
	}

	msg, err := svc.CreateUser(ctx, in)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func runMe(ctx context.Context, svc *vault.Service, _ []string) error {
	user, err := svc.Me(ctx)
	if err != nil {
		return err
	}
	return printJSON(user)
}

func runProfile(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("profile")
	id := fs.String("id", "", "user ID (defaults to you)")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	avatar := fs.String("avatar", "", "avatar image file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := models.UpdateUserInput{
		FirstName: optional(fs, "first", *first),
		LastName:  optional(fs, "last", *last),
	}
	if *avatar != "" {
		up, f, err := upload(*avatar)
		if err != nil {
			return err
		}
		defer f.Close()
		in.Avatar = up
	}

	target := *id
	if target == "" {
		target = svc.Session().User().ID
	}
	user, err := svc.UpdateUser(ctx, target, in)
	if err != nil {
		return err
	}
	return printJSON(user)
}

func runPasswd(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("passwd")
	current := fs.String("current", "", "current password")
	next := fs.String("new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var in models.ChangePasswordInput
	var err error
	if in.CurrentPassword, err = secret(*current, "MINERVA_PASSWORD", "Senha atual: "); err != nil {
		return err
	}
	if in.NewPassword, err = secret(*next, "MINERVA_NEW_PASSWORD", "Nova senha: "); err != nil {
		return err
	}
	in.PasswordConfirmation = in.NewPassword
	if *next == "" && os.Getenv("MINERVA_NEW_PASSWORD") == "" {
		if in.PasswordConfirmation, err = secret("", "", "Confirme a nova senha: "); err != nil {
			return err
		}
	}

	if err := svc.ChangePassword(ctx, in); err != nil {
		return err
	}
	fmt.Println("Senha alterada com sucesso.")
	return nil
}

func runRoles(ctx context.Context, svc *vault.Service, _ []string) error {
	roles, err := svc.Roles(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, r := range roles {
		fmt.Fprintf(w, "%s\t%s\n", r.ID, r.Name)
	}
	return w.Flush()
}

func runUsers(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("users")
	role := fs.String("role", "", "role ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *role == "" {
		fs.Usage()
		return errUsage
	}

	users, err := svc.UsersByRole(ctx, *role)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\n", u.ID, u.Name)
	}
	return w.Flush()
}

func filterFlags(fs *flag.FlagSet) *models.ThesisFilters {
	f := &models.ThesisFilters{}
	fs.StringVar(&f.Title, "title", "", "title contains")
	fs.StringVar(&f.AuthorName, "author", "", "author name contains")
	fs.StringVar(&f.AdvisorName, "advisor", "", "advisor name contains")
	fs.StringVar(&f.CoAdvisorName, "coadvisor", "", "co-advisor name contains")
	fs.StringVar(&f.DefenseDate, "date", "", "defense date (YYYY-MM-DD)")
	fs.StringVar(&f.Context, "q", "", "search title, abstract and keywords")
	fs.IntVar(&f.Page, "page", 1, "page number")
	fs.Func("order", "sort order, e.g. BYTITLEASC", func(s string) error {
		o := models.OrderBy(strings.ToUpper(s))
		if !o.Valid() {
			return fmt.Errorf("unknown order %q", s)
		}
		f.OrderBy = o
		return nil
	})
	return f
}

func printTheses(list *models.ThesisList) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEFESA\tSTATUS\tAUTOR\tTÍTULO")
	for _, t := range list.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.DefenseDate, t.Status, t.Author.Name, t.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nPágina %d de %d (%d teses)\n", list.CurrentPage, list.Pages, list.Total)
	return nil
}

func runTheses(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("theses")
	filters := filterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := svc.ListTheses(ctx, *filters)
	if err != nil {
		return err
	}
	return printTheses(list)
}

func runMine(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("mine")
	filters := filterFlags(fs)
	fs.Func("orientation", "ADVISOR or COADVISOR", func(s string) error {
		o := models.Orientation(strings.ToUpper(s))
		if o != models.OrientationAdvisor && o != models.OrientationCoAdvisor {
			return fmt.Errorf("unknown orientation %q", s)
		}
		filters.Orientation = o
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := svc.ListMyTheses(ctx, *filters)
	if err != nil {
		return err
	}
	return printTheses(list)
}

func thesisID(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <thesis-id>\n", fs.Name())
		return "", errUsage
	}
	return fs.Arg(0), nil
}

func runThesis(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("thesis")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := thesisID(fs)
	if err != nil {
		return err
	}
	t, err := svc.GetThesis(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(t)
}

func runCreate(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("create")
	var in models.CreateThesisInput
	fs.StringVar(&in.Title, "title", "", "title")
	fs.StringVar(&in.AuthorID, "author", "", "author (student) ID")
	fs.StringVar(&in.AdvisorID, "advisor", "", "advisor ID")
	coAdvisor := fs.String("coadvisor", "", "co-advisor ID")
	fs.StringVar(&in.Abstract, "abstract", "", "abstract")
	fs.StringVar(&in.Keywords, "keywords", "", "comma separated keywords")
	fs.StringVar(&in.DefenseDate, "date", "", "defense date (YYYY-MM-DD)")
	pdf := fs.String("pdf", "", "thesis PDF file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *coAdvisor != "" {
		in.CoAdvisorID = coAdvisor
	}
	if *pdf != "" {
		up, f, err := upload(*pdf)
		if err != nil {
			return err
		}
		defer f.Close()
		in.PDF = up
	}

	t, err := svc.CreateThesis(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("Tese cadastrada: %s (%s)\n", t.ID, t.Status)
	return nil
}

func runUpdate(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("update")
	title := fs.String("title", "", "title")
	author := fs.String("author", "", "author (student) ID")
	advisor := fs.String("advisor", "", "advisor ID")
	coAdvisor := fs.String("coadvisor", "", `co-advisor ID, "" removes it`)
	abstract := fs.String("abstract", "", "abstract")
	keywords := fs.String("keywords", "", "comma separated keywords")
	date := fs.String("date", "", "defense date (YYYY-MM-DD)")
	status := fs.String("status", "", "PENDING, APPROVED or REJECTED")
	pdf := fs.String("pdf", "", "replacement PDF file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := thesisID(fs)
	if err != nil {
		return err
	}

	in := models.UpdateThesisInput{
		Title:       optional(fs, "title", *title),
		AuthorID:    optional(fs, "author", *author),
		AdvisorID:   optional(fs, "advisor", *advisor),
		CoAdvisorID: optional(fs, "coadvisor", *coAdvisor),
		Abstract:    optional(fs, "abstract", *abstract),
		Keywords:    optional(fs, "keywords", *keywords),
		DefenseDate: optional(fs, "date", *date),
		Status:      optional(fs, "status", strings.ToUpper(*status)),
	}
	if *pdf != "" {
		up, f, err := upload(*pdf)
		if err != nil {
			return err
		}
		defer f.Close()
		in.PDF = up
	}

	t, err := svc.UpdateThesis(ctx, id, in)
	if err != nil {
		return err
	}
	fmt.Printf("Tese atualizada: %s (%s)\n", t.ID, t.Status)
	return nil
}

func runDelete(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := thesisID(fs)
	if err != nil {
		return err
	}
	if err := svc.DeleteThesis(ctx, id); err != nil {
		return err
	}
	fmt.Println("Tese excluída.")
	return nil
}

func runDownload(ctx context.Context, svc *vault.Service, args []string) error {
	fs := newFlags("download")
	dir := fs.String("o", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := thesisID(fs)
	if err != nil {
		return err
	}

	// the final name depends on the thesis, which is only known after the fetch
	tmp, err := os.CreateTemp(*dir, ".vault-*.pdf")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, err := svc.DownloadPDF(ctx, id, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	target := filepath.Join(*dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}
	fmt.Println(target)
	return nil
}
