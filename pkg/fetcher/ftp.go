// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpTransport reads files over FTP in passive mode. Credentials come from
// the URL userinfo; without them the login is anonymous.
type ftpTransport struct {
	url     *url.URL
	timeout time.Duration
}

func (t *ftpTransport) addr() string {
	if t.url.Port() != "" {
		return t.url.Host
	}
	return net.JoinHostPort(t.url.Hostname(), "21")
}

func (t *ftpTransport) credentials() (string, string) {
	if t.url.User == nil {
		return "anonymous", "anonymous"
	}
	pass, _ := t.url.User.Password()
	return t.url.User.Username(), pass
}

func (t *ftpTransport) open(ctx context.Context, offset int64) (*remoteFile, error) {
	conn, err := ftp.Dial(t.addr(), ftp.DialWithContext(ctx), ftp.DialWithTimeout(t.timeout))
	if err != nil {
		return nil, err
	}
	user, pass := t.credentials()
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, err
	}

	p := t.url.Path
	total, err := conn.FileSize(p)
	if err != nil {
		total = 0
	}

	var resp *ftp.Response
	if offset > 0 {
		resp, err = conn.RetrFrom(p, uint64(offset))
		if err != nil {
			// REST refused: fall back to a full transfer.
			offset = 0
			resp, err = conn.Retr(p)
		}
	} else {
		resp, err = conn.Retr(p)
	}
	if err != nil {
		conn.Quit()
		return nil, err
	}
	return &remoteFile{Body: &ftpBody{resp: resp, conn: conn}, Offset: offset, Total: total}, nil
}

// ftpBody closes the data connection, then the control connection.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Read(p []byte) (int, error) { return b.resp.Read(p) }

func (b *ftpBody) Close() error {
	err := b.resp.Close()
	if qerr := b.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
