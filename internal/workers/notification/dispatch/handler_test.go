package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/events"
	"forum-comms/internal/models"
	"forum-comms/internal/notification"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	mu            sync.Mutex
	calls         []*ses.SendEmailInput
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.mu.Lock()
	m.calls = append(m.calls, params)
	m.mu.Unlock()
	return m.SendEmailFunc(ctx, params, optFns...)
}

func (m *MockSESService) attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type MockSNSService struct {
	calls []*sns.PublishInput
}

func (m *MockSNSService) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

type fakeNotifications struct {
	mu      sync.Mutex
	nextID  int64
	reject  bool
	created []models.NewNotification
}

func (f *fakeNotifications) CreateNotification(_ context.Context, n models.NewNotification) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return 0, false
	}
	f.nextID++
	f.created = append(f.created, n)
	return f.nextID, true
}

func (f *fakeNotifications) AssociatedProfileURL(_ context.Context, n *models.Notification) string {
	if n.Type == models.TypeFollow {
		return "https://forum.test/investors/70"
	}
	return ""
}

type fakeRecords struct {
	mu         sync.Mutex
	recipients map[int64]int64
	sent       []int64
	failed     []int64
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{recipients: map[int64]int64{}}
}

func (f *fakeRecords) SetRecipient(_ context.Context, id, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipients[id] = userID
	return nil
}

func (f *fakeRecords) MarkSent(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeRecords) MarkFailed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

type fakeResolver struct {
	res  notification.Resolution
	seen []*models.Notification
}

func (f *fakeResolver) ResolvePreference(_ context.Context, n *models.Notification) notification.Resolution {
	f.seen = append(f.seen, n)
	return f.res
}

type fakeProfiles struct {
	investors []int64
	err       error
}

func (f *fakeProfiles) GetStartup(_ context.Context, startupID int64) (*models.StartupProfile, error) {
	if startupID == 9 {
		return &models.StartupProfile{ID: 9, UserID: 90, Name: "Acme <Labs>"}, nil
	}
	return nil, nil
}

func (f *fakeProfiles) GetProject(_ context.Context, projectID int64) (*models.Project, error) {
	if projectID == 4 {
		return &models.Project{ID: 4, StartupID: 9, Title: "Rocket"}, nil
	}
	return nil, nil
}

func (f *fakeProfiles) TrackingInvestors(_ context.Context, _, _ *int64) ([]int64, error) {
	return f.investors, f.err
}

type fakeUsers struct{}

func (fakeUsers) ResolveUser(_ context.Context, userID int64) (*models.User, error) {
	switch userID {
	case 1:
		return &models.User{ID: 1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}, nil
	case 90:
		return &models.User{ID: 90, FirstName: "Sam", LastName: "Founder", Email: "sam@acme.test"}, nil
	case 70:
		return &models.User{ID: 70, FirstName: "Ivy", LastName: "Investor", Email: "ivy@fund.test"}, nil
	}
	return nil, nil
}

type fakeMessages struct{}

func (fakeMessages) GetMessageByID(_ context.Context, messageID string) (*models.Message, error) {
	return &models.Message{ID: messageID, SenderID: 1, ReceiverID: 90}, nil
}

type broadcast struct {
	group   string
	payload string
}

type fakeHub struct {
	mu   sync.Mutex
	sent []broadcast
	err  error
}

func (f *fakeHub) Broadcast(_ context.Context, group string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, broadcast{group: group, payload: string(payload)})
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

type testEnv struct {
	handler  *Handler
	notifs   *fakeNotifications
	records  *fakeRecords
	resolver *fakeResolver
	profiles *fakeProfiles
	hub      *fakeHub
	ses      *MockSESService
	sns      *MockSNSService
	sleeps   []time.Duration
}

func createTestConfig() *Config {
	return &Config{
		Workers:        2,
		QueueSize:      8,
		MaxAttempts:    3,
		BaseBackoff:    10 * time.Millisecond,
		MaxBackoff:     15 * time.Millisecond,
		AttemptTimeout: time.Second,
		EnqueueTimeout: 50 * time.Millisecond,
		DedupeTTL:      time.Minute,
		Timeout:        5 * time.Second,
		EmailEnabled:   true,
		FromEmail:      "noreply@forum.test",
		TopicARN:       "arn:aws:sns:us-east-1:000000000000:forum",
		SiteURL:        "https://forum.test",
	}
}

func newTestEnv(t *testing.T, rdb *redis.Client, res notification.Resolution) *testEnv {
	env := &testEnv{
		notifs:   &fakeNotifications{},
		records:  newFakeRecords(),
		resolver: &fakeResolver{res: res},
		profiles: &fakeProfiles{},
		hub:      &fakeHub{},
		sns:      &MockSNSService{},
		ses: &MockSESService{
			SendEmailFunc: func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
				return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
			},
		},
	}
	env.handler = NewHandler(createTestConfig(), Deps{
		Notifications: env.notifs,
		Records:       env.records,
		Resolver:      env.resolver,
		Profiles:      env.profiles,
		Users:         fakeUsers{},
		Messages:      fakeMessages{},
		Hub:           env.hub,
		Redis:         rdb,
		SES:           env.ses,
		SNS:           env.sns,
	}, logger.NewTestLogger(t))
	env.handler.sleep = func(_ context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

func bothChannels(recipient int64) notification.Resolution {
	return notification.Resolution{RecipientUserID: recipient, Role: models.RoleStartup, Email: true, InApp: true}
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// ==========================
// Delivery
// ==========================

func TestHandler_FollowDeliveredOnBothChannels(t *testing.T) {
	env := newTestEnv(t, nil, bothChannels(90))

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeSent, out.Status)
	assert.Equal(t, int64(1), out.NotificationID)
	assert.Equal(t, 1, out.EmailAttempts)
	assert.Equal(t, []int64{1}, env.records.sent)
	assert.Empty(t, env.records.failed)
	assert.Equal(t, int64(90), env.records.recipients[1])

	require.Len(t, env.hub.sent, 1)
	assert.Equal(t, "notifications:90", env.hub.sent[0].group)
	assert.Contains(t, env.hub.sent[0].payload, `"notification":`)
	assert.Contains(t, env.hub.sent[0].payload, `"notification_type":"FOLLOW"`)

	require.Len(t, env.ses.calls, 1)
	input := env.ses.calls[0]
	assert.Equal(t, []string{"sam@acme.test"}, input.Destination.ToAddresses)
	assert.Equal(t, "Forum: New Follower", *input.Message.Subject.Data)
	assert.Contains(t, *input.Message.Body.Text.Data, "Hello, Sam Founder")
	assert.Contains(t, *input.Message.Body.Text.Data, "https://forum.test/investors/70")
	assert.Equal(t, "noreply@forum.test", *input.Source)

	assert.Empty(t, env.sns.calls, "sns disabled by config")
}

func TestHandler_SNSPublishWhenEnabled(t *testing.T) {
	env := newTestEnv(t, nil, notification.Resolution{RecipientUserID: 90, InApp: true})
	env.handler.config.SNSEnabled = true

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeSent, out.Status)
	require.Len(t, env.sns.calls, 1)
	assert.Equal(t, "90", *env.sns.calls[0].MessageAttributes["recipient"].StringValue)
	assert.Equal(t, "FOLLOW", *env.sns.calls[0].MessageAttributes["notification_type"].StringValue)
	assert.Zero(t, env.ses.attempts())
}

func TestHandler_MessageEmailNamesSender(t *testing.T) {
	env := newTestEnv(t, nil, notification.Resolution{RecipientUserID: 90, Email: true})

	out := env.handler.process(context.Background(), events.MessageCreated("m-1"))

	assert.Equal(t, OutcomeSent, out.Status)
	require.Len(t, env.ses.calls, 1)
	assert.Equal(t, "Forum: New Message", *env.ses.calls[0].Message.Subject.Data)
	assert.Contains(t, *env.ses.calls[0].Message.Body.Text.Data, "You have a new message from Ada Lovelace.")
	assert.Empty(t, env.hub.sent)
}

func TestHandler_TransientFailureStopsAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, nil, bothChannels(90))
	env.ses.SendEmailFunc = func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
		return nil, stderrors.New("connection reset by peer")
	}

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, 3, env.ses.attempts(), "never a 4th attempt")
	assert.Equal(t, 3, out.EmailAttempts)
	assert.True(t, out.RetriesExhausted)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, env.sleeps)
	assert.Equal(t, []int64{1}, env.records.failed)
	assert.Empty(t, env.records.sent)
	assert.Len(t, env.notifs.created, 1, "creation is never retried")
}

func TestHandler_UnsetMaxAttemptsFallsBackToRetryCount(t *testing.T) {
	env := newTestEnv(t, nil, bothChannels(90))
	env.handler.config.MaxAttempts = 0
	env.ses.SendEmailFunc = func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
		return nil, &smithy.GenericAPIError{Code: "Throttling", Fault: smithy.FaultClient}
	}

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, errors.GetRetryCount(errors.ErrCodeDeliveryTransient), env.ses.attempts())
	assert.Equal(t, env.ses.attempts(), out.EmailAttempts)
	assert.True(t, out.RetriesExhausted)
}

func TestHandler_TransientThenSuccess(t *testing.T) {
	env := newTestEnv(t, nil, bothChannels(90))
	calls := 0
	env.ses.SendEmailFunc = func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
		calls++
		if calls < 2 {
			return nil, &smithy.GenericAPIError{Code: "Throttling", Fault: smithy.FaultClient}
		}
		return &ses.SendEmailOutput{MessageId: aws.String("msg-2")}, nil
	}

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeSent, out.Status)
	assert.Equal(t, 2, out.EmailAttempts)
	assert.Equal(t, []int64{1}, env.records.sent)
}

func TestHandler_PermanentFailureIsNotRetried(t *testing.T) {
	env := newTestEnv(t, nil, bothChannels(90))
	env.ses.SendEmailFunc = func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
		return nil, &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified", Fault: smithy.FaultClient}
	}

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, 1, env.ses.attempts())
	assert.False(t, out.RetriesExhausted)
	assert.Empty(t, env.sleeps)
	assert.Equal(t, []int64{1}, env.records.failed)
	assert.Len(t, env.hub.sent, 1, "in-app push happens before email")
}

func TestHandler_UnknownRecipientFailsEmail(t *testing.T) {
	env := newTestEnv(t, nil, notification.Resolution{Email: true, InApp: true})

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Zero(t, env.ses.attempts())
	assert.Empty(t, env.hub.sent)
	assert.Empty(t, env.records.recipients)
}

func TestHandler_UnknownRecipientWithEmailOffStaysPending(t *testing.T) {
	env := newTestEnv(t, nil, notification.Resolution{Email: true, InApp: true})
	env.handler.config.EmailEnabled = false

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeSuppressed, out.Status)
	assert.Equal(t, int64(1), out.NotificationID)
	assert.Empty(t, env.records.sent, "never marked sent without a delivery")
	assert.Empty(t, env.records.failed)
	assert.Empty(t, env.hub.sent)
	assert.Zero(t, env.ses.attempts())
	assert.Len(t, env.notifs.created, 1)
}

func TestHandler_InAppOnlyBroadcastFailureStaysPending(t *testing.T) {
	env := newTestEnv(t, nil, notification.Resolution{RecipientUserID: 90, InApp: true})
	env.hub.err = stderrors.New("redis publish failed")

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeSuppressed, out.Status)
	assert.Empty(t, env.records.sent)
	assert.Empty(t, env.records.failed)
	assert.Equal(t, int64(90), env.records.recipients[1])
}

func TestHandler_SuppressedWhenNoChannel(t *testing.T) {
	tests := []struct {
		name         string
		res          notification.Resolution
		emailEnabled bool
	}{
		{name: "both disabled by preference", res: notification.Resolution{RecipientUserID: 90}, emailEnabled: true},
		{name: "email only but email off", res: notification.Resolution{RecipientUserID: 90, Email: true}, emailEnabled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, tt.res)
			env.handler.config.EmailEnabled = tt.emailEnabled

			out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

			assert.Equal(t, OutcomeSuppressed, out.Status)
			assert.Empty(t, env.records.sent)
			assert.Empty(t, env.records.failed)
			assert.Zero(t, env.ses.attempts())
			assert.Empty(t, env.hub.sent)
		})
	}
}

// ==========================
// Dedupe and fan-out
// ==========================

func TestHandler_DuplicateEventCreatesOneRecord(t *testing.T) {
	mr, rdb := newMiniredis(t)
	env := newTestEnv(t, rdb, bothChannels(90))
	event := events.Followed(11, 7, 9)

	first := env.handler.process(context.Background(), event)
	second := env.handler.process(context.Background(), event)

	assert.Equal(t, OutcomeSent, first.Status)
	assert.Equal(t, OutcomeDuplicate, second.Status)
	assert.Len(t, env.notifs.created, 1)
	assert.True(t, mr.Exists("dispatch:event:tracking:11"))
}

func TestHandler_RejectedCreateReleasesKey(t *testing.T) {
	mr, rdb := newMiniredis(t)
	env := newTestEnv(t, rdb, bothChannels(90))
	env.notifs.reject = true

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeRejected, out.Status)
	assert.False(t, mr.Exists("dispatch:event:tracking:11"))
	assert.Zero(t, env.ses.attempts())
}

func TestHandler_RedisOutageDoesNotBlockDelivery(t *testing.T) {
	mr, rdb := newMiniredis(t)
	mr.Close()
	env := newTestEnv(t, rdb, bothChannels(90))

	out := env.handler.process(context.Background(), events.Followed(11, 7, 9))

	assert.Equal(t, OutcomeSent, out.Status)
}

func TestHandler_UpdateFansOutToTrackingInvestors(t *testing.T) {
	env := newTestEnv(t, nil, notification.Resolution{RecipientUserID: 70, Email: true})
	env.profiles.investors = []int64{7, 8, 7}
	startupID := int64(9)

	err := env.handler.Process(context.Background(), events.ProfileUpdated("u-1", &startupID, nil))

	require.NoError(t, err)
	require.Len(t, env.notifs.created, 2)
	assert.Equal(t, int64(7), *env.notifs.created[0].InvestorID)
	assert.Equal(t, int64(8), *env.notifs.created[1].InvestorID)
	require.Len(t, env.ses.calls, 2)
	assert.Contains(t, *env.ses.calls[0].Message.Body.Text.Data, "Startup Profile [Acme <Labs>] you are following has new updates.")
}

func TestHandler_UpdateFanOutLookupError(t *testing.T) {
	env := newTestEnv(t, nil, bothChannels(70))
	env.profiles.err = stderrors.New("db down")
	projectID := int64(4)

	err := env.handler.Process(context.Background(), events.ProfileUpdated("u-2", nil, &projectID))

	assert.Error(t, err)
	assert.Empty(t, env.notifs.created)
}

// ==========================
// Backoff
// ==========================

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(time.Second, 30*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}
