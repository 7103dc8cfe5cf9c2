package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Last-writer-wins over any sequence of content updates: the version
// equals the number of accepted updates and the cached content is exactly
// the last one written.
func TestDocumentStateLastWriterWinsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("version counts accepted updates, content is the last write", prop.ForAll(
		func(contents []string) bool {
			f := newTestFixture(time.Millisecond)
			sessionA, _, docID := twoMemberRoom(f)
			sessA, _ := f.presence.Get(sessionA)

			for _, content := range contents {
				if _, err := f.documents.ApplyUpdate(docID, sessionA, sessA.UserID, content, nil); err != nil {
					return false
				}
			}

			state := f.documents.GetState(docID)
			if state.Version != int64(len(contents)) {
				return false
			}
			if len(contents) > 0 && state.Content != contents[len(contents)-1] {
				return false
			}
			return true
		},
		gen.SliceOf(gen.AlphaString().SuchThat(func(s string) bool { return s != "" })),
	))

	properties.Property("interleaved writers always sum to the total update count", prop.ForAll(
		func(fromA, fromB uint8) bool {
			f := newTestFixture(time.Millisecond)
			sessionA, sessionB, docID := twoMemberRoom(f)
			sessA, _ := f.presence.Get(sessionA)
			sessB, _ := f.presence.Get(sessionB)

			done := make(chan struct{}, 2)
			go func() {
				for i := 0; i < int(fromA); i++ {
					f.documents.ApplyUpdate(docID, sessionA, sessA.UserID, "a", nil)
				}
				done <- struct{}{}
			}()
			go func() {
				for i := 0; i < int(fromB); i++ {
					f.documents.ApplyUpdate(docID, sessionB, sessB.UserID, "b", nil)
				}
				done <- struct{}{}
			}()
			<-done
			<-done

			return f.documents.GetState(docID).Version == int64(fromA)+int64(fromB)
		},
		gen.UInt8Range(0, 30),
		gen.UInt8Range(0, 30),
	))

	properties.TestingRun(t)
}

func twoMemberRoom(f *testFixture) (sessionA, sessionB, docID uuid.UUID) {
	sessionA = f.registerSession(uuid.New())
	sessionB = f.registerSession(uuid.New())
	docID = uuid.New()
	f.rooms.Join(sessionA, docID)
	f.rooms.Join(sessionB, docID)
	f.sink.reset()
	return sessionA, sessionB, docID
}
