package connectiondao

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/savaki/ddb"
	"github.com/tj/assert"
)

func withTable(t *testing.T, callback func(ctx context.Context, dao *DAO)) {
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("DYNAMODB_ENDPOINT not set; skipping dynamodb-local test")
	}

	var (
		s = session.Must(session.NewSession(aws.NewConfig().
			WithCredentials(credentials.NewStaticCredentials("blah", "blah", "")).
			WithEndpoint(endpoint).
			WithRegion("us-west-2")))
		api       = dynamodb.New(s)
		tableName = fmt.Sprintf("connections-%v", time.Now().UnixNano())
		table     = ddb.New(api).MustTable(tableName, Connection{})
		dao       = New(api, tableName)
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := table.CreateTableIfNotExists(ctx)
	assert.Nil(t, err)
	defer table.DeleteTableIfExists(ctx)

	callback(ctx, dao)
}

func TestDAO(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO) {
		var (
			now = time.Now()
			a   = Connection{ConnectionID: "a", SessionID: "s1", ParticipantID: "p1", Name: "Ada", Role: "student", Client: "web", ConnectedAt: now.Unix(), TTL: now.Add(time.Hour).Unix()}
			b   = Connection{ConnectionID: "b", SessionID: "s1", ParticipantID: "p2", Name: "Bo", Role: "teacher", Client: "tablet", ConnectedAt: now.Unix(), TTL: now.Add(time.Hour).Unix()}
			c   = Connection{ConnectionID: "c", SessionID: "s2", ParticipantID: "p3", Name: "Cy", Role: "student", Client: "web", ConnectedAt: now.Unix(), TTL: now.Add(time.Hour).Unix()}
		)

		for _, conn := range []Connection{a, b, c} {
			assert.Nil(t, dao.Put(ctx, conn))
		}

		got, err := dao.Get(ctx, "a")
		assert.Nil(t, err)
		assert.Equal(t, &a, got)

		missing, err := dao.Get(ctx, "nope")
		assert.Nil(t, err)
		assert.Nil(t, missing)

		conns, err := dao.ListBySession(ctx, "s1")
		assert.Nil(t, err)
		sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectionID < conns[j].ConnectionID })
		assert.Equal(t, []Connection{a, b}, conns)

		conns, err = dao.ListBySession(ctx, "")
		assert.Nil(t, err)
		assert.Len(t, conns, 0)

		assert.Nil(t, dao.Delete(ctx, "a"))
		assert.Nil(t, dao.Delete(ctx, "a"))

		conns, err = dao.ListBySession(ctx, "s1")
		assert.Nil(t, err)
		assert.Equal(t, []Connection{b}, conns)
	})
}
