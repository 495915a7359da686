package vault

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minervavault/vault/internal/client"
	"github.com/minervavault/vault/internal/config"
	"github.com/minervavault/vault/internal/devserver"
	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
	"github.com/minervavault/vault/internal/service"
	"github.com/minervavault/vault/internal/session"
	"github.com/minervavault/vault/internal/tokenstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const seedPassword = "Minerva@2024"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type fixture struct {
	server *devserver.Server
	url    string
	clock  *fakeClock
	store  *tokenstore.Memory
	api    *client.RefreshCoordinator
	svc    *Service
	notes  *recordingNotifier
	logger *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Server: config.ServerConfig{SeedPassword: seedPassword},
		JWT: config.JWTConfig{
			SecretKey:     strings.Repeat("s", 32),
			AccessExpiry:  time.Minute,
			RefreshExpiry: time.Hour,
		},
	}
	clock := &fakeClock{now: time.Now()}
	server, err := devserver.New(cfg, logger, devserver.WithBcryptCost(bcrypt.MinCost), devserver.WithClock(clock.Now))
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	f := &fixture{server: server, url: ts.URL, clock: clock, store: tokenstore.NewMemory(), logger: logger}
	f.svc, f.api, f.notes = f.newService()
	return f
}

// newService builds a second client sharing the fixture's token store, as a
// restarted application would.
func (f *fixture) newService() (*Service, *client.RefreshCoordinator, *recordingNotifier) {
	api := client.New(f.url, f.store, f.logger)
	notes := &recordingNotifier{}
	return NewService(api, session.New(f.store, f.logger), notes, f.logger), api, notes
}

func (f *fixture) login(t *testing.T, username string) *models.UserProfile {
	t.Helper()
	profile, err := f.svc.Login(context.Background(), username, seedPassword)
	require.NoError(t, err)
	return profile
}

func (f *fixture) roleID(t *testing.T, name string) string {
	t.Helper()
	role, ok := f.server.Users.RoleByName(name)
	require.True(t, ok)
	return role.ID
}

func pdfUpload() *models.Upload {
	return &models.Upload{Filename: "tese.pdf", ContentType: "application/pdf", Body: bytes.NewReader(service.SamplePDF)}
}

func ptr(s string) *string { return &s }

func TestLogin_StoresTokensAndUser(t *testing.T) {
	f := newFixture(t)

	profile := f.login(t, "aluno.souza")

	assert.Equal(t, "aluno.souza", profile.Username)
	assert.True(t, profile.HasRole(repository.RoleStudent))
	require.NotNil(t, profile.PasswordStatus)
	assert.Equal(t, models.UrgencyOK, profile.PasswordStatus.Urgency)

	_, ok := f.store.Get(tokenstore.AccessTokenKey)
	assert.True(t, ok)
	_, ok = f.store.Get(tokenstore.RefreshTokenKey)
	assert.True(t, ok)
	assert.Equal(t, session.Authenticated, f.svc.Session().Gate())
	assert.Empty(t, f.notes.all())
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "aluno.souza", "wrong-password")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, msgLogin, apiErr.Message)
	assert.Equal(t, []string{msgLogin}, f.notes.all())

	_, ok := f.store.Get(tokenstore.AccessTokenKey)
	assert.False(t, ok)
	assert.Nil(t, f.svc.Session().User())
}

func TestLogin_ValidationNeverHitsNetwork(t *testing.T) {
	f := newFixture(t)
	f.url = "http://127.0.0.1:1"
	svc, _, notes := f.newService()

	_, err := svc.Login(context.Background(), "", "")

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.True(t, valErr.Has("Username"))
	assert.True(t, valErr.Has("Password"))
	assert.Empty(t, notes.all())
}

func TestExpiredAccessToken_RefreshesTransparently(t *testing.T) {
	f := newFixture(t)
	f.login(t, "aluno.souza")
	oldAccess, _ := f.store.Get(tokenstore.AccessTokenKey)
	oldRefresh, _ := f.store.Get(tokenstore.RefreshTokenKey)

	f.clock.Advance(2 * time.Minute)

	list, err := f.svc.ListTheses(context.Background(), models.ThesisFilters{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	newAccess, _ := f.store.Get(tokenstore.AccessTokenKey)
	newRefresh, _ := f.store.Get(tokenstore.RefreshTokenKey)
	assert.NotEqual(t, oldAccess, newAccess)
	assert.Equal(t, oldRefresh, newRefresh)
	assert.Equal(t, client.StateNormal, f.api.State())
	assert.Empty(t, f.notes.all())
}

func TestRejectedRefresh_ExpiresSession(t *testing.T) {
	f := newFixture(t)
	f.login(t, "aluno.souza")
	f.store.Set(tokenstore.RefreshTokenKey, "not-a-token")

	f.clock.Advance(2 * time.Minute)

	_, err := f.svc.ListTheses(context.Background(), models.ThesisFilters{})
	require.ErrorIs(t, err, client.ErrSessionExpired)

	_, ok := f.store.Get(tokenstore.AccessTokenKey)
	assert.False(t, ok)
	_, ok = f.store.Get(tokenstore.RefreshTokenKey)
	assert.False(t, ok)
	assert.Nil(t, f.svc.Session().User())
	assert.Equal(t, session.Anonymous, f.svc.Session().Gate())
	assert.Equal(t, client.StateFailed, f.api.State())
	assert.Equal(t, []string{"Sua sessão expirou. Faça login novamente."}, f.notes.all())

	// a new login starts over
	f.login(t, "aluno.souza")
	assert.Equal(t, client.StateNormal, f.api.State())
}

func TestPasswordChange_InvalidatesOlderRefreshTokens(t *testing.T) {
	f := newFixture(t)
	f.login(t, "aluno.souza")

	f.clock.Advance(2 * time.Second)
	err := f.svc.ChangePassword(context.Background(), models.ChangePasswordInput{
		CurrentPassword:      seedPassword,
		NewPassword:          "Nova#Senha2025",
		PasswordConfirmation: "Nova#Senha2025",
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Me(context.Background())
	require.ErrorIs(t, err, client.ErrSessionExpired)

	_, err = f.svc.Login(context.Background(), "aluno.souza", "Nova#Senha2025")
	require.NoError(t, err)
}

func TestBootstrap_RestoresSession(t *testing.T) {
	f := newFixture(t)
	f.login(t, "prof.silva")

	restarted, _, _ := f.newService()
	assert.True(t, restarted.Session().Loading())

	restarted.Bootstrap(context.Background())

	assert.False(t, restarted.Session().Loading())
	require.NotNil(t, restarted.Session().User())
	assert.Equal(t, "prof.silva", restarted.Session().User().Username)
	assert.Equal(t, session.Authenticated, restarted.Session().Gate())
}

func TestBootstrap_InvalidTokensEndLoggedOut(t *testing.T) {
	f := newFixture(t)
	f.store.Set(tokenstore.AccessTokenKey, "stale")
	f.store.Set(tokenstore.RefreshTokenKey, "stale")

	f.svc.Bootstrap(context.Background())

	assert.False(t, f.svc.Session().Loading())
	assert.Nil(t, f.svc.Session().User())
	_, ok := f.store.Get(tokenstore.AccessTokenKey)
	assert.False(t, ok)
	assert.Equal(t, session.Anonymous, f.svc.Session().Gate())
	assert.Empty(t, f.notes.all())
}

func TestListTheses_Filters(t *testing.T) {
	f := newFixture(t)
	f.login(t, "admin")
	ctx := context.Background()

	list, err := f.svc.ListTheses(ctx, models.ThesisFilters{Title: "arquiteturas"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Ana Souza", list.Items[0].Author.Name)
	assert.Equal(t, "Carlos Silva", list.Items[0].Advisor.Name)
	assert.Nil(t, list.Items[0].CoAdvisor)
	assert.Equal(t, 1, list.CurrentPage)

	list, err = f.svc.ListTheses(ctx, models.ThesisFilters{AdvisorName: "oliveira"})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Equal(t, 0, list.Total)

	list, err = f.svc.ListTheses(ctx, models.ThesisFilters{Context: "monografias", OrderBy: models.ByTitleAsc})
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)

	mine, err := f.svc.ListMyTheses(ctx, models.ThesisFilters{})
	require.NoError(t, err)
	assert.Empty(t, mine.Items)
}

func TestListMyTheses_Orientation(t *testing.T) {
	f := newFixture(t)
	f.login(t, "prof.silva")
	ctx := context.Background()

	mine, err := f.svc.ListMyTheses(ctx, models.ThesisFilters{Orientation: models.OrientationAdvisor})
	require.NoError(t, err)
	assert.Len(t, mine.Items, 1)

	mine, err = f.svc.ListMyTheses(ctx, models.ThesisFilters{Orientation: models.OrientationCoAdvisor})
	require.NoError(t, err)
	assert.Empty(t, mine.Items)
}

func TestCreateThesis_StudentSubmissionIsPending(t *testing.T) {
	f := newFixture(t)
	student := f.login(t, "aluno.souza")
	ctx := context.Background()

	advisors, err := f.svc.UsersByRole(ctx, f.roleID(t, repository.RoleProfessor))
	require.NoError(t, err)
	require.Len(t, advisors, 1)

	detail, err := f.svc.CreateThesis(ctx, models.CreateThesisInput{
		Title:       "Sistemas Distribuídos na Prática",
		AuthorID:    student.ID,
		AdvisorID:   advisors[0].ID,
		Abstract:    "Resumo.",
		Keywords:    "go, http",
		DefenseDate: "2025-03-01",
		PDF:         pdfUpload(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ThesisPending, detail.Status)
	require.NotNil(t, detail.PDFPages)
	assert.Equal(t, 1, *detail.PDFPages)
	require.NotNil(t, detail.PDFFile)
	assert.True(t, strings.HasPrefix(*detail.PDFFile, f.url))
	assert.Equal(t, student.ID, detail.CreatedBy.ID)

	got, err := f.svc.GetThesis(ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sistemas Distribuídos na Prática", got.Title)
}

func TestCreateThesis_ForOtherStudentRejected(t *testing.T) {
	f := newFixture(t)
	f.login(t, "aluno.souza")

	_, err := f.svc.CreateThesis(context.Background(), models.CreateThesisInput{
		Title:       "Outra",
		AuthorID:    f.server.Seeded.ProfessorID,
		AdvisorID:   f.server.Seeded.AdminID,
		Abstract:    "Resumo.",
		Keywords:    "k",
		DefenseDate: "2025-03-01",
		PDF:         pdfUpload(),
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "Usuário não tem permissão para criar tese em nome de outro estudante", apiErr.Message)
	assert.Equal(t, []string{apiErr.Message}, f.notes.all())
}

func TestCreateThesis_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateThesis(context.Background(), models.CreateThesisInput{
		Title:       "T",
		AuthorID:    "not-a-uuid",
		AdvisorID:   f.server.Seeded.ProfessorID,
		Abstract:    "a",
		Keywords:    "k",
		DefenseDate: "01/03/2025",
	})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.True(t, valErr.Has("AuthorID"))
	assert.True(t, valErr.Has("DefenseDate"))
	assert.True(t, valErr.Has("PDF"))

	_, err = f.svc.CreateThesis(context.Background(), models.CreateThesisInput{
		Title:       "T",
		AuthorID:    f.server.Seeded.StudentID,
		AdvisorID:   f.server.Seeded.ProfessorID,
		Abstract:    "a",
		Keywords:    "k",
		DefenseDate: "2025-03-01",
		PDF:         &models.Upload{Filename: "tese.docx", Body: strings.NewReader("x")},
	})
	require.ErrorAs(t, err, &valErr)
	assert.True(t, valErr.Has("PDF"))
	assert.Empty(t, f.notes.all())
}

func TestUpdateThesis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.server.Seeded.ThesisID

	f.login(t, "prof.silva")
	detail, err := f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{
		Title:  ptr("Título Revisado"),
		Status: ptr(models.ThesisRejected),
	})
	require.NoError(t, err)
	assert.Equal(t, "Título Revisado", detail.Title)
	assert.Equal(t, models.ThesisRejected, detail.Status)

	// replacing the PDF goes out as multipart
	detail, err = f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{
		Keywords: ptr("novas, palavras"),
		PDF:      pdfUpload(),
	})
	require.NoError(t, err)
	assert.Equal(t, "novas, palavras", detail.Keywords)
	assert.Equal(t, "Título Revisado", detail.Title)

	detail, err = f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{CoAdvisorID: ptr(f.server.Seeded.ProfessorID)})
	require.NoError(t, err)
	require.NotNil(t, detail.CoAdvisor)
	assert.Equal(t, f.server.Seeded.ProfessorID, detail.CoAdvisor.ID)

	// an empty co-advisor removes it, as JSON and as multipart
	detail, err = f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{CoAdvisorID: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, detail.CoAdvisor)

	_, err = f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{CoAdvisorID: ptr(f.server.Seeded.ProfessorID)})
	require.NoError(t, err)
	detail, err = f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{CoAdvisorID: ptr(""), PDF: pdfUpload()})
	require.NoError(t, err)
	assert.Nil(t, detail.CoAdvisor)

	_, err = f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{CoAdvisorID: ptr("not-a-uuid")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("CoAdvisorID"))

	f.svc.Logout()
	f.login(t, "aluno.souza")
	_, err = f.svc.UpdateThesis(ctx, id, models.UpdateThesisInput{Status: ptr(models.ThesisApproved)})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
}

func TestDeleteThesis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "prof.silva")

	require.NoError(t, f.svc.DeleteThesis(ctx, f.server.Seeded.ThesisID))

	_, err := f.svc.GetThesis(ctx, f.server.Seeded.ThesisID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "Tese não encontrada", apiErr.Message)
}

func TestDownloadPDF(t *testing.T) {
	f := newFixture(t)
	f.login(t, "aluno.souza")

	var buf bytes.Buffer
	name, err := f.svc.DownloadPDF(context.Background(), f.server.Seeded.ThesisID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "ANA_SOUZA_14062024.pdf", name)
	assert.Equal(t, service.SamplePDF, buf.Bytes())
}

func TestPDFFileName(t *testing.T) {
	tests := []struct {
		author, date, want string
	}{
		{"Ana Souza", "2024-06-14", "ANA_SOUZA_14062024.pdf"},
		{"  joão   da silva ", "2023-01-02", "JOÃO_DA_SILVA_02012023.pdf"},
		{"Ana", "not-a-date", "ANA_00000000.pdf"},
		{"", "2024-06-14", "TESE_14062024.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PDFFileName(tt.author, tt.date), tt.author)
	}
}

func TestUsersAndRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "admin")

	roles, err := f.svc.Roles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	msg, err := f.svc.CreateUser(ctx, models.CreateUserInput{
		Username:             "bia.lima",
		Email:                "bia@minerva.local",
		Password:             "Segura#123",
		PasswordConfirmation: "Segura#123",
		FirstName:            "Beatriz",
		LastName:             "Lima",
		RoleID:               f.roleID(t, repository.RoleStudent),
	})
	require.NoError(t, err)
	assert.Equal(t, "Usuário criado com sucesso!", msg)

	students, err := f.svc.UsersByRole(ctx, f.roleID(t, repository.RoleStudent))
	require.NoError(t, err)
	assert.Len(t, students, 2)

	_, err = f.svc.CreateUser(ctx, models.CreateUserInput{
		Username:             "bia.lima",
		Email:                "outra@minerva.local",
		Password:             "Segura#123",
		PasswordConfirmation: "Segura#123",
		FirstName:            "B",
		LastName:             "L",
		RoleID:               f.roleID(t, repository.RoleStudent),
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "username: ")
}

func TestCreateUser_PasswordMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateUser(context.Background(), models.CreateUserInput{
		Username:             "bia.lima",
		Email:                "bia@minerva.local",
		Password:             "Segura#123",
		PasswordConfirmation: "Segura#124",
		FirstName:            "Beatriz",
		LastName:             "Lima",
		RoleID:               "r",
	})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.True(t, valErr.Has("PasswordConfirmation"))
}

func TestUpdateUser_RefreshesSessionUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := f.login(t, "aluno.souza")

	updated, err := f.svc.UpdateUser(ctx, me.ID, models.UpdateUserInput{
		FirstName: ptr("Ana Clara"),
		Avatar:    &models.Upload{Filename: "a.png", ContentType: "image/png", Body: strings.NewReader("png")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ana Clara", updated.FirstName)
	assert.NotNil(t, updated.AvatarURL)
	assert.Equal(t, "Ana Clara", f.svc.Session().User().FirstName)

	_, err = f.svc.UpdateUser(ctx, f.server.Seeded.ProfessorID, models.UpdateUserInput{FirstName: ptr("X")})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "Você não tem permissão para atualizar este usuário", apiErr.Message)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	f := newFixture(t)
	f.login(t, "aluno.souza")

	err := f.svc.ChangePassword(context.Background(), models.ChangePasswordInput{
		CurrentPassword:      "nope-nope",
		NewPassword:          "Nova#Senha2025",
		PasswordConfirmation: "Nova#Senha2025",
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Senha atual incorreta", apiErr.Message)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.login(t, "aluno.souza")

	f.svc.Logout()

	_, ok := f.store.Get(tokenstore.AccessTokenKey)
	assert.False(t, ok)
	_, ok = f.store.Get(tokenstore.RefreshTokenKey)
	assert.False(t, ok)
	assert.Nil(t, f.svc.Session().User())

	_, err := f.svc.Me(context.Background())
	require.Error(t, err)
}
