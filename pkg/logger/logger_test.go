package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given an initialized logger", t, func() {
		So(Init(), ShouldBeNil)

		Convey("Then Get returns a usable logger", func() {
			l := Get()
			So(l, ShouldNotBeNil)
			So(func() {
				l.Info(context.Background(), "test message", String("k", "v"), Duration("d", time.Second), Bool("b", true))
			}, ShouldNotPanic)
		})

		Convey("Then named loggers are usable", func() {
			So(Named("test"), ShouldNotBeNil)
			So(func() { Named("test").Warn(context.Background(), "warned", Error(errors.New("boom"))) }, ShouldNotPanic)
		})
	})
}

func TestLoggerFileSink(t *testing.T) {
	Convey("Given a logger with a file sink", t, func() {
		path := filepath.Join(t.TempDir(), "logs", "tcgprice.log")
		So(InitWithFile(FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}), ShouldBeNil)
		defer func() {
			_ = Sync()
			_ = Init()
		}()

		Convey("When logging a record", func() {
			Get().Info(context.Background(), "written to file", String("card_id", "42"))
			So(Sync(), ShouldBeNil)

			Convey("Then the record lands in the file", func() {
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(strings.Contains(string(data), "written to file"), ShouldBeTrue)
				So(strings.Contains(string(data), "card_id=42"), ShouldBeTrue)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(Init(), ShouldBeNil)
		for _, lvl := range []string{"debug", "info", "", "warn", "warning", "error", " INFO "} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("verbose"), ShouldNotBeNil)
		_ = SetLevelString("info")
	})
}
